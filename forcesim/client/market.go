package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/forcesim/forcesim-client/forcesim"
)

// MarketOptions are the market settings accepted by /market/configure.
type MarketOptions struct {
	// IterBlock is the number of iterations the market runs per block.
	IterBlock int `json:"iter_block,omitempty"`
}

// Reset returns the instance to an empty state.
func (c *Client) Reset(ctx context.Context) (*Response, error) {
	return c.request(ctx, http.MethodPost, "/market/reset", nil)
}

// Configure applies market options.
func (c *Client) Configure(ctx context.Context, opts MarketOptions) (*Response, error) {
	return c.request(ctx, http.MethodPost, "/market/configure", opts)
}

// Start starts the market.
func (c *Client) Start(ctx context.Context) (*Response, error) {
	return c.request(ctx, http.MethodPost, "/market/start", nil)
}

// Stop stops the market.
func (c *Client) Stop(ctx context.Context) (*Response, error) {
	return c.request(ctx, http.MethodPost, "/market/stop", nil)
}

// Run asks the market to run iterCount iterations.
func (c *Client) Run(ctx context.Context, iterCount int) (*Response, error) {
	if iterCount <= 0 {
		return nil, fmt.Errorf("%w: iter_count must be positive, got %d", forcesim.ErrValidation, iterCount)
	}
	return c.request(ctx, http.MethodPost, "/market/run", map[string]int{"iter_count": iterCount})
}

// WaitForStop blocks until the market has stopped running.
func (c *Client) WaitForStop(ctx context.Context) (*Response, error) {
	return c.request(ctx, http.MethodGet, "/market/wait_for_stop", nil)
}

// ListAgents returns the instance's agent listing as plain data.
func (c *Client) ListAgents(ctx context.Context) (*Response, error) {
	return c.request(ctx, http.MethodGet, "/agent/list", nil)
}

// ListSubscribers returns the instance's subscriber listing as plain data.
func (c *Client) ListSubscribers(ctx context.Context) (*Response, error) {
	return c.request(ctx, http.MethodGet, "/subscribers/list", nil)
}

// EmitInfo emits infos into the market as one info set.
func (c *Client) EmitInfo(ctx context.Context, infos []forcesim.Info) (*Response, error) {
	if infos == nil {
		infos = []forcesim.Info{}
	}
	return c.request(ctx, http.MethodPost, "/info/emit", infos)
}
