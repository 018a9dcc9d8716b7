// Package session groups registered agents and drives a complete run
// against a forcesim instance.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/forcesim/forcesim-client/forcesim"
	"github.com/forcesim/forcesim-client/forcesim/client"
	"github.com/forcesim/forcesim-client/forcesim/subscriber"
)

var (
	// ErrAlreadyRegistered is returned when registering an agent or agent set twice.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrNotRegistered is returned by operations that need an instance-assigned id.
	ErrNotRegistered = errors.New("not registered")
)

// Agent is a single agent registered with the instance.
type Agent struct {
	client *client.Client
	spec   forcesim.AgentSpec
	log    logrus.FieldLogger
	record *forcesim.AgentRecord
}

// NewAgent creates an unregistered agent for spec.
func NewAgent(c *client.Client, spec forcesim.AgentSpec, log logrus.FieldLogger) *Agent {
	return &Agent{client: c, spec: spec, log: log}
}

// Record returns the agent's registration, if any.
func (a *Agent) Record() (forcesim.AgentRecord, bool) {
	if a.record == nil {
		return forcesim.AgentRecord{}, false
	}
	return *a.record, true
}

// RegisterOne registers the agent on its own.
func (a *Agent) RegisterOne(ctx context.Context) error {
	if a.record != nil {
		return fmt.Errorf("agent %d: %w", a.record.ID, ErrAlreadyRegistered)
	}
	res, err := a.client.AddAgents(ctx, []client.AgentRequest{{Spec: a.spec, Count: 1}})
	if err != nil {
		return fmt.Errorf("registering %s agent: %w", a.spec.Type, err)
	}
	if res.Dropped > 0 {
		return fmt.Errorf("%w: %s agent external_force %v outside [0,100]",
			forcesim.ErrValidation, a.spec.Type, a.spec.Config.Base().ExternalForce)
	}
	rec := res.Records[0][0]
	a.record = &rec
	return nil
}

// SubscribeAgentAction creates an AGENT_ACTION subscriber for this agent from
// config. The subscriber still has to be started.
func (a *Agent) SubscribeAgentAction(config forcesim.SubscriberConfig, opts ...subscriber.Option) (*subscriber.Subscriber, error) {
	if a.record == nil {
		return nil, fmt.Errorf("subscribing to agent actions: %w", ErrNotRegistered)
	}
	config.Type = forcesim.AgentAction
	return subscriber.New(a.client, config.WithAgentParameter(a.record.ID), opts...), nil
}

// Delete unregisters the agent. An agent the instance no longer knows is not
// an error. The local record is dropped either way.
func (a *Agent) Delete(ctx context.Context) error {
	if a.record == nil {
		return fmt.Errorf("deleting agent: %w", ErrNotRegistered)
	}
	id := a.record.ID
	a.record = nil
	_, err := a.client.DeleteAgents(ctx, []int64{id})
	return deleteError(a.log, err)
}

// AgentSet is a group of identical agents registered with one request.
type AgentSet struct {
	Name string

	client *client.Client
	spec   forcesim.AgentSpec
	count  int
	log    logrus.FieldLogger
	agents []*Agent
}

// NewAgentSet creates an unregistered set of count agents built from spec.
func NewAgentSet(c *client.Client, name string, spec forcesim.AgentSpec, count int, log logrus.FieldLogger) *AgentSet {
	return &AgentSet{Name: name, client: c, spec: spec, count: count, log: log}
}

// Register creates all agents of the set on the instance.
func (s *AgentSet) Register(ctx context.Context) error {
	if len(s.agents) > 0 {
		return fmt.Errorf("agent set %s: %w", s.Name, ErrAlreadyRegistered)
	}
	res, err := s.client.AddAgents(ctx, []client.AgentRequest{{Spec: s.spec, Count: s.count}})
	if err != nil {
		return fmt.Errorf("registering agent set %s: %w", s.Name, err)
	}
	if res.Dropped > 0 {
		return fmt.Errorf("%w: agent set %s external_force %v outside [0,100]",
			forcesim.ErrValidation, s.Name, s.spec.Config.Base().ExternalForce)
	}
	for _, rec := range res.Records[0] {
		rec := rec
		s.agents = append(s.agents, &Agent{client: s.client, spec: s.spec, log: s.log, record: &rec})
	}
	s.log.Infof("registered %d %s agents for %s", len(s.agents), s.spec.Type, s.Name)
	return nil
}

// Agents returns the registered agents.
func (s *AgentSet) Agents() []*Agent { return s.agents }

// IDs returns the instance-assigned ids of the registered agents.
func (s *AgentSet) IDs() []int64 {
	ids := make([]int64, 0, len(s.agents))
	for _, a := range s.agents {
		if a.record != nil {
			ids = append(ids, a.record.ID)
		}
	}
	return ids
}

// Delete unregisters every agent of the set with one request. Agents the
// instance reports as not found are logged; any other per-agent error fails
// the call. The local records are cleared either way.
func (s *AgentSet) Delete(ctx context.Context) error {
	ids := s.IDs()
	for _, a := range s.agents {
		a.record = nil
	}
	s.agents = nil
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.DeleteAgents(ctx, ids)
	if err := deleteError(s.log, err); err != nil {
		return fmt.Errorf("deleting agent set %s: %w", s.Name, err)
	}
	return nil
}

// deleteError filters a DeleteAgents error: Not_found items are logged and
// dropped, everything else is returned.
func deleteError(log logrus.FieldLogger, err error) error {
	if err == nil {
		return nil
	}
	var er *client.ErrorResponse
	if !errors.As(err, &er) {
		return err
	}
	switch er.Code() {
	case client.NotFound:
		log.Warnf("agent already gone: %s", er.Response.Message)
		return nil
	case client.Multiple:
		items := er.ItemErrors()
		var fatal []string
		for _, key := range sortedKeys(items) {
			ie := items[key]
			if ie.Code == client.NotFound {
				log.Warnf("agent %s already gone: %s", key, ie.Message)
				continue
			}
			fatal = append(fatal, fmt.Sprintf("agent %s: %s", key, ie))
		}
		if len(fatal) == 0 {
			return nil
		}
		return fmt.Errorf("%s: %w", strings.Join(fatal, "; "), err)
	default:
		return err
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
