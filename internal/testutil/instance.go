// Package testutil provides shared test infrastructure for the forcesim
// client packages: a fake instance served over httptest, response envelope
// builders and a UDP datagram sender.
package testutil

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// RecordedRequest is one request received by an Instance.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// Instance is a fake forcesim instance. Routes answer with canned bodies
// or handler functions; every request is recorded.
type Instance struct {
	Server *httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewInstance starts a fake instance that is closed when the test ends.
// Unrouted paths answer with a General_error envelope and status 404.
func NewInstance(t *testing.T) *Instance {
	t.Helper()
	inst := &Instance{routes: make(map[string]http.HandlerFunc)}
	inst.Server = httptest.NewServer(http.HandlerFunc(inst.serve))
	t.Cleanup(inst.Server.Close)
	return inst
}

func (inst *Instance) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	inst.mu.Lock()
	inst.requests = append(inst.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	h, ok := inst.routes[r.Method+" "+r.URL.Path]
	inst.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(Envelope("General_error", "no route for "+r.URL.Path, nil, nil))
		return
	}
	h(w, r)
}

// Respond makes method+path answer with status and body.
func (inst *Instance) Respond(method, path string, status int, body []byte) {
	inst.HandleFunc(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	})
}

// HandleFunc routes method+path to h.
func (inst *Instance) HandleFunc(method, path string, h http.HandlerFunc) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.routes[method+" "+path] = h
}

// Requests returns the recorded requests for path, in arrival order.
func (inst *Instance) Requests(path string) []RecordedRequest {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	var out []RecordedRequest
	for _, r := range inst.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Addr returns the host and port of the instance.
func (inst *Instance) Addr(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(inst.Server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("splitting instance address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing instance port: %v", err)
	}
	return host, port
}

// Envelope builds a response envelope. A nil code or dataType is sent as null.
func Envelope(code any, message string, dataType any, data any) []byte {
	b, err := json.Marshal(map[string]any{
		"error_code":  code,
		"message":     message,
		"api_version": 0.1,
		"data_type":   dataType,
		"data":        data,
	})
	if err != nil {
		panic(err)
	}
	return b
}

// OK builds an ok envelope with plain data, or null data when data is nil.
func OK(data any) []byte {
	if data == nil {
		return Envelope(nil, "ok", nil, nil)
	}
	return Envelope(nil, "ok", "Data", data)
}

// Multi builds a Multiple_* envelope. The error code is Multiple when
// errorKeys is non-empty and null otherwise.
func Multi(dataType string, data any, errorKeys []any) []byte {
	if errorKeys == nil {
		errorKeys = []any{}
	}
	var code any
	msg := "completed without errors"
	if len(errorKeys) > 0 {
		code = "Multiple"
		msg = "completed with " + strconv.Itoa(len(errorKeys)) + " errors"
	}
	return Envelope(code, msg, dataType, map[string]any{"data": data, "error_keys": errorKeys})
}

// FreeUDPPort returns a loopback UDP port that was free at the time of the call.
func FreeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserving UDP port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port
}

// SendDatagram sends payload to 127.0.0.1:port.
func SendDatagram(t *testing.T, port int, payload string) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("dialing UDP port %d: %v", port, err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("sending datagram: %v", err)
	}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
