package subscriber

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/forcesim/forcesim-client/forcesim"
)

// maxDatagramSize is the largest UDP payload the instance can send.
const maxDatagramSize = 65535

// sink receives the points routed to one logical subscriber.
type sink interface {
	push(points []forcesim.Point)
	flush()
}

// Listener owns the UDP endpoint a subscriber type is pushed to.
//
// PRICE datagrams look like {"PRICE": [[tp, price], ...]} and go to the sink
// attached under the empty key. AGENT_ACTION datagrams nest the points under
// the agent id, {"AGENT_ACTION": {"<id>": [[tp, action], ...]}}, and are
// demultiplexed to the sink attached under that id, so several AGENT_ACTION
// subscribers can share one endpoint. An empty point list is an end-of-batch
// flush for the sink it is routed to.
type Listener struct {
	addr    string
	port    int
	typ     forcesim.SubscriberType
	log     logrus.FieldLogger
	metrics *Metrics

	mu    sync.Mutex
	conn  *net.UDPConn
	sinks map[string]sink
	done  chan struct{}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for datagram diagnostics.
func WithListenerLogger(log logrus.FieldLogger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

// WithListenerMetrics records datagram counters in m.
func WithListenerMetrics(m *Metrics) ListenerOption {
	return func(l *Listener) { l.metrics = m }
}

// NewListener creates an unbound listener for typ pushes on addr:port.
func NewListener(addr string, port int, typ forcesim.SubscriberType, opts ...ListenerOption) *Listener {
	l := &Listener{
		addr:  addr,
		port:  port,
		typ:   typ,
		log:   discardLogger(),
		sinks: make(map[string]sink),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Type returns the subscriber type this listener decodes.
func (l *Listener) Type() forcesim.SubscriberType { return l.typ }

// Bind opens the UDP socket and starts reading. It returns once the socket
// is bound or binding failed. Binding an already bound listener is a no-op.
func (l *Listener) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	ip := net.ParseIP(l.addr)
	if ip == nil {
		return fmt.Errorf("%w: invalid listen address %q", forcesim.ErrValidation, l.addr)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: l.port})
	if err != nil {
		return fmt.Errorf("binding UDP %s: %w", net.JoinHostPort(l.addr, strconv.Itoa(l.port)), err)
	}
	l.log.Infof("subscriber UDP endpoint listening on %s", conn.LocalAddr())

	l.conn = conn
	l.done = make(chan struct{})
	go l.readLoop(conn, l.done)
	return nil
}

// LocalAddr returns the bound address, or nil before Bind.
func (l *Listener) LocalAddr() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Close closes the socket and waits for the read loop to exit.
func (l *Listener) Close() error {
	l.mu.Lock()
	conn, done := l.conn, l.done
	l.conn, l.done = nil, nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

func (l *Listener) attach(key string, s sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks[key] = s
}

// detach removes the sink under key and reports how many remain.
func (l *Listener) detach(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sinks, key)
	return len(l.sinks)
}

func (l *Listener) readLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Errorf("reading datagram: %v", err)
			continue
		}
		l.handle(buf[:n], from)
	}
}

func (l *Listener) handle(payload []byte, from *net.UDPAddr) {
	typ := string(l.typ)
	if !utf8.Valid(payload) {
		l.log.Errorf("dropping datagram from %v: payload is not valid UTF-8", from)
		l.metrics.datagram(typ, OutcomeMalformed)
		return
	}

	var msg map[string]json.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.log.Errorf("dropping datagram from %v: %v", from, err)
		l.metrics.datagram(typ, OutcomeMalformed)
		return
	}
	raw, ok := msg[typ]
	if !ok {
		l.log.Errorf("dropping datagram from %v: no %q member", from, typ)
		l.metrics.datagram(typ, OutcomeMalformed)
		return
	}

	switch l.typ {
	case forcesim.AgentAction:
		var byAgent map[string][]forcesim.Point
		if err := json.Unmarshal(raw, &byAgent); err != nil {
			l.log.Errorf("dropping %s datagram from %v: %v", typ, from, err)
			l.metrics.datagram(typ, OutcomeMalformed)
			return
		}
		routed := false
		for agentID, points := range byAgent {
			routed = l.route(agentID, points) || routed
		}
		l.metrics.datagram(typ, outcome(routed))
	default:
		var points []forcesim.Point
		if err := json.Unmarshal(raw, &points); err != nil {
			l.log.Errorf("dropping %s datagram from %v: %v", typ, from, err)
			l.metrics.datagram(typ, OutcomeMalformed)
			return
		}
		l.metrics.datagram(typ, outcome(l.route("", points)))
	}
}

func outcome(routed bool) string {
	if routed {
		return OutcomeAccepted
	}
	return OutcomeUnrouted
}

// route hands points to the sink attached under key. It reports false when
// no sink is attached there.
func (l *Listener) route(key string, points []forcesim.Point) bool {
	l.mu.Lock()
	s := l.sinks[key]
	l.mu.Unlock()

	if s == nil {
		l.log.Debugf("no %s subscriber attached for key %q; dropping %d points", l.typ, key, len(points))
		return false
	}
	if len(points) == 0 {
		l.log.Debugf("received empty %s record - flushed", l.typ)
		l.metrics.flush(string(l.typ))
		s.flush()
		return true
	}
	l.log.Debugf("received %d %s points", len(points), l.typ)
	l.metrics.points(string(l.typ), len(points))
	s.push(points)
	return true
}
