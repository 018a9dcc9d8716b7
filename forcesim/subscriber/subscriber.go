// Package subscriber receives the data the instance pushes over UDP and
// exposes it to callers through a point buffer and two wait primitives.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/forcesim/forcesim-client/forcesim"
	"github.com/forcesim/forcesim-client/forcesim/client"
)

var (
	// ErrAlreadyStarted is returned by Start on a subscriber that has left
	// the Unregistered state.
	ErrAlreadyStarted = errors.New("subscriber already started")
	// ErrNotRegistered is returned by Delete when there is nothing to
	// unregister.
	ErrNotRegistered = errors.New("subscriber not registered")
	// ErrDeleted is returned by Start when Delete ran before registration
	// completed. The registration is undone.
	ErrDeleted = errors.New("subscriber deleted")
)

// State is the registration state of a Subscriber.
type State int

const (
	Unregistered State = iota
	Registering
	Active
	Inert
	Deleted
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Active:
		return "active"
	case Inert:
		return "inert"
	case Deleted:
		return "deleted"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Registrar registers subscribers with the instance. *client.Client
// implements it.
type Registrar interface {
	AddSubscribers(ctx context.Context, configs []forcesim.SubscriberConfig) ([]forcesim.SubscriberRecord, *client.Response, error)
	DelSubscribers(ctx context.Context, records []forcesim.SubscriberRecord) (*client.Response, error)
}

// Graph receives every batch of points a subscriber appends.
type Graph interface {
	AddPoints(points []forcesim.Point)
}

type countWaiter struct {
	ch   chan struct{}
	refs int
}

// Subscriber is one registration of a subscriber with the instance plus the
// local endpoint that receives its pushes.
type Subscriber struct {
	reg      Registrar
	config   forcesim.SubscriberConfig
	log      logrus.FieldLogger
	metrics  *Metrics
	listener *Listener
	shared   bool
	key      string

	// flushed is a level signal: a pending flush is a buffered value.
	flushed chan struct{}

	mu      sync.Mutex
	state   State
	record  *forcesim.SubscriberRecord
	points  []forcesim.Point
	graph   Graph
	waiters map[int]*countWaiter
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the subscriber's logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Subscriber) { s.log = log }
}

// WithMetrics records the datagram counters of the subscriber's own listener
// in m. It has no effect together with WithListener.
func WithMetrics(m *Metrics) Option {
	return func(s *Subscriber) { s.metrics = m }
}

// WithListener makes the subscriber receive through l instead of a listener
// of its own. The caller owns l and closes it.
func WithListener(l *Listener) Option {
	return func(s *Subscriber) {
		s.listener = l
		s.shared = true
	}
}

// WithGraph attaches g from the start.
func WithGraph(g Graph) Option {
	return func(s *Subscriber) { s.graph = g }
}

// New creates an unregistered subscriber for config. Defaults are applied
// to config before it is stored.
func New(reg Registrar, config forcesim.SubscriberConfig, opts ...Option) *Subscriber {
	s := &Subscriber{
		reg:     reg,
		config:  config.WithDefaults(),
		log:     discardLogger(),
		flushed: make(chan struct{}, 1),
		waiters: make(map[int]*countWaiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.key = routingKey(s.config)
	if s.listener == nil {
		s.listener = NewListener(s.config.Addr, s.config.Port, s.config.Type,
			WithListenerLogger(s.log), WithListenerMetrics(s.metrics))
	}
	return s
}

// routingKey is the key datagrams for config are demultiplexed by: the
// parameter's agent id for AGENT_ACTION, empty otherwise.
func routingKey(config forcesim.SubscriberConfig) string {
	if config.Type != forcesim.AgentAction || !config.HasParameter() {
		return ""
	}
	var param forcesim.AgentParameter
	if err := json.Unmarshal(config.Parameter, &param); err != nil || len(param.ID) == 0 {
		return string(config.Parameter)
	}
	var id int64
	if err := json.Unmarshal(param.ID, &id); err == nil {
		return strconv.FormatInt(id, 10)
	}
	var s string
	if err := json.Unmarshal(param.ID, &s); err == nil {
		return s
	}
	return string(param.ID)
}

// Config returns the subscriber's configuration with defaults applied.
func (s *Subscriber) Config() forcesim.SubscriberConfig { return s.config }

// Listener returns the listener the subscriber receives through.
func (s *Subscriber) Listener() *Listener { return s.listener }

// Start registers the subscriber and binds its endpoint. The endpoint is
// listening by the time Start returns nil in the Active state.
//
// A registration the instance refuses with Subscriber_config_error leaves the
// subscriber Inert and is not reported as an error.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Unregistered {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: subscriber is %s", ErrAlreadyStarted, state)
	}
	s.state = Registering
	s.mu.Unlock()

	if err := s.config.Validate(); err != nil {
		s.leaveRegistering(Unregistered, nil)
		return err
	}

	records, _, err := s.reg.AddSubscribers(ctx, []forcesim.SubscriberConfig{s.config})
	if err != nil {
		if configRefused(err) {
			s.log.Errorf("aborting %s subscriber creation: %v", s.config.Type, err)
			s.leaveRegistering(Inert, nil)
			return nil
		}
		s.leaveRegistering(Unregistered, nil)
		return fmt.Errorf("registering %s subscriber: %w", s.config.Type, err)
	}
	if len(records) != 1 {
		s.log.Errorf("aborting %s subscriber creation: instance assigned no id", s.config.Type)
		s.leaveRegistering(Inert, nil)
		return nil
	}
	record := records[0]

	if !s.registering() {
		s.rollback(ctx, record)
		return fmt.Errorf("%w: subscriber %d", ErrDeleted, record.ID)
	}
	s.listener.attach(s.key, s)
	if err := s.listener.Bind(); err != nil {
		s.listener.detach(s.key)
		if _, derr := s.reg.DelSubscribers(ctx, []forcesim.SubscriberRecord{record}); derr != nil {
			s.log.Warnf("unregistering subscriber %d after bind failure: %v", record.ID, derr)
		}
		s.leaveRegistering(Unregistered, nil)
		return err
	}

	if !s.leaveRegistering(Active, &record) {
		s.rollback(ctx, record)
		return fmt.Errorf("%w: subscriber %d", ErrDeleted, record.ID)
	}
	s.log.Infof("%s subscriber %d active on %s:%d", s.config.Type, record.ID, s.config.Addr, s.config.Port)
	return nil
}

func (s *Subscriber) registering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Registering
}

// leaveRegistering moves a Registering subscriber to state with record. It
// reports false, changing nothing, when Delete ran in the meantime.
func (s *Subscriber) leaveRegistering(state State, record *forcesim.SubscriberRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Registering {
		return false
	}
	s.state = state
	s.record = record
	return true
}

// rollback releases the endpoint and the remote registration of a subscriber
// that was deleted while Start was still registering it.
func (s *Subscriber) rollback(ctx context.Context, record forcesim.SubscriberRecord) {
	s.log.Warnf("%s subscriber %d deleted during registration; unregistering", s.config.Type, record.ID)
	s.listener.detach(s.key)
	if !s.shared {
		if err := s.listener.Close(); err != nil {
			s.log.Warnf("closing %s listener: %v", s.config.Type, err)
		}
	}
	if _, err := s.reg.DelSubscribers(ctx, []forcesim.SubscriberRecord{record}); err != nil {
		s.log.Warnf("unregistering subscriber %d: %v", record.ID, err)
	}
}

// configRefused reports whether err is the instance rejecting the subscriber
// configuration, either directly or as the single item of a Multiple error.
func configRefused(err error) bool {
	if client.IsCode(err, client.SubscriberConfigError) {
		return true
	}
	var er *client.ErrorResponse
	if !errors.As(err, &er) || er.Code() != client.Multiple {
		return false
	}
	for _, ie := range er.ItemErrors() {
		if ie.Code == client.SubscriberConfigError {
			return true
		}
	}
	return false
}

// Delete unregisters the subscriber. The record, the graph and the listener
// attachment are released whatever the instance answers; the remote error,
// if any, is returned afterwards. Deleting a subscriber that is still
// registering makes that Start undo its registration and return ErrDeleted.
func (s *Subscriber) Delete(ctx context.Context) error {
	s.mu.Lock()
	record := s.record
	s.mu.Unlock()

	var err error
	if record == nil {
		err = ErrNotRegistered
	} else if _, derr := s.reg.DelSubscribers(ctx, []forcesim.SubscriberRecord{*record}); derr != nil {
		err = fmt.Errorf("unregistering subscriber %d: %w", record.ID, derr)
	}

	s.listener.detach(s.key)
	if !s.shared {
		if cerr := s.listener.Close(); cerr != nil {
			s.log.Warnf("closing %s listener: %v", s.config.Type, cerr)
		}
	}

	s.mu.Lock()
	s.record = nil
	s.graph = nil
	s.state = Deleted
	s.mu.Unlock()
	return err
}

// WaitFlushed blocks until the instance signals the end of a batch. The
// signal is consumed; flushes that arrived since the last wait collapse
// into one.
func (s *Subscriber) WaitFlushed(ctx context.Context) error {
	select {
	case <-s.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitRecordCount blocks until the buffer holds at least n points.
func (s *Subscriber) WaitRecordCount(ctx context.Context, n int) error {
	s.mu.Lock()
	if len(s.points) >= n {
		s.mu.Unlock()
		return nil
	}
	w, ok := s.waiters[n]
	if !ok {
		w = &countWaiter{ch: make(chan struct{})}
		s.waiters[n] = w
	}
	w.refs++
	s.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		w.refs--
		if w.refs == 0 && s.waiters[n] == w {
			delete(s.waiters, n)
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Points returns a copy of the buffered points in arrival order.
func (s *Subscriber) Points() []forcesim.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]forcesim.Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of buffered points.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// Record returns the registration record, if the subscriber is active.
func (s *Subscriber) Record() (forcesim.SubscriberRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return forcesim.SubscriberRecord{}, false
	}
	return *s.record, true
}

// State returns the subscriber's current registration state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetGraph attaches g; points received from now on are also given to g.
func (s *Subscriber) SetGraph(g Graph) {
	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()
}

// RemoveGraph detaches the graph; points already given to it are kept there.
func (s *Subscriber) RemoveGraph() {
	s.SetGraph(nil)
}

func (s *Subscriber) push(points []forcesim.Point) {
	s.mu.Lock()
	s.points = append(s.points, points...)
	n := len(s.points)
	for threshold, w := range s.waiters {
		if n >= threshold {
			close(w.ch)
			delete(s.waiters, threshold)
		}
	}
	g := s.graph
	s.mu.Unlock()

	if g != nil {
		g.AddPoints(points)
	}
}

func (s *Subscriber) flush() {
	select {
	case s.flushed <- struct{}{}:
	default:
	}
}

// pendingWaits returns the number of thresholds with a live waiter.
func (s *Subscriber) pendingWaits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
