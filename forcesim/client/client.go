// Package client implements the command side of the forcesim protocol: typed
// operations sent to the instance over HTTP/JSON and the classification of
// its response envelopes into ok responses, error responses and integrity
// failures.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Client sends commands to one forcesim instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the HTTP client, keeping any
// client set by an earlier WithHTTPClient. The caller's client is copied, not
// modified. wait_for_stop blocks for as long as the market runs, so keep it
// generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := http.Client{}
		if c.httpClient != nil {
			hc = *c.httpClient
		}
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithLogger sets the logger used for request and validation messages.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the instance listening on addr:port.
func New(addr string, port int, opts ...Option) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := &Client{
		baseURL:    "http://" + net.JoinHostPort(addr, strconv.Itoa(port)),
		httpClient: &http.Client{},
		log:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromURL creates a client for an instance at baseURL (scheme, host and port).
func NewFromURL(baseURL string, opts ...Option) *Client {
	c := New("", 0, opts...)
	c.baseURL = baseURL
	return c
}

// BaseURL returns the scheme, host and port requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// request sends one JSON request and parses the envelope. It returns
// *ErrorResponse when the instance reports an error and *IntegrityError,
// unmodified, when the envelope is malformed.
func (c *Client) request(ctx context.Context, method, path string, body any) (*Response, error) {
	url := c.baseURL + path

	var payload []byte
	if raw, ok := body.([]byte); ok {
		payload = raw
	} else {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", path, err)
		}
	}

	var reader io.Reader
	if method != http.MethodGet {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.log.Debugf("%s %s %s", method, url, payload)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}

	// The envelope, not the HTTP status, is authoritative: the instance
	// answers errors with 4xx/5xx codes and a well-formed envelope.
	parsed, err := Parse(url, payload, raw)
	if err != nil {
		return nil, err
	}
	if parsed.IsError() {
		return nil, &ErrorResponse{Response: parsed}
	}
	return parsed, nil
}
