package forcesim

import (
	"encoding/json"
	"fmt"
)

// SubscriberType is the kind of data a subscriber receives. Its string form
// is also the key under which the instance nests points in each datagram.
type SubscriberType string

const (
	AgentAction SubscriberType = "AGENT_ACTION"
	Price       SubscriberType = "PRICE"
)

// validSubscriberTypes maps accepted subscriber type strings.
var validSubscriberTypes = map[SubscriberType]bool{
	AgentAction: true,
	Price:       true,
}

// ParseSubscriberType returns the SubscriberType for s, or an error if s is not a known type.
func ParseSubscriberType(s string) (SubscriberType, error) {
	if !validSubscriberTypes[SubscriberType(s)] {
		return "", fmt.Errorf("unknown subscriber type %q; valid: AGENT_ACTION, PRICE", s)
	}
	return SubscriberType(s), nil
}

// DefaultSubscriberAddr is the address a subscriber binds when none is configured.
const DefaultSubscriberAddr = "0.0.0.0"

// SubscriberConfig describes one subscriber registration. Addr and Port are
// both the local UDP endpoint and the endpoint the instance pushes to.
type SubscriberConfig struct {
	Type        SubscriberType  `json:"type" validate:"required"`
	Port        int             `json:"port" validate:"gte=1,lte=65535"`
	Granularity int             `json:"granularity" validate:"gte=1"`
	Addr        string          `json:"addr" validate:"required,ip"`
	Parameter   json.RawMessage `json:"parameter,omitempty"`
}

// WithDefaults fills in the granularity and address defaults.
func (c SubscriberConfig) WithDefaults() SubscriberConfig {
	if c.Granularity == 0 {
		c.Granularity = 1
	}
	if c.Addr == "" {
		c.Addr = DefaultSubscriberAddr
	}
	return c
}

// HasParameter reports whether the config carries a non-null parameter.
func (c SubscriberConfig) HasParameter() bool {
	return len(c.Parameter) > 0 && string(c.Parameter) != "null"
}

// AgentParameter is the parameter of an AGENT_ACTION subscriber: the agent
// whose actions are pushed.
type AgentParameter struct {
	ID json.RawMessage `json:"id"`
}

// WithAgentParameter returns a copy of c parameterised with an agent id, as
// AGENT_ACTION subscribers require. The parameter is sent as {"id": agentID}.
func (c SubscriberConfig) WithAgentParameter(agentID int64) SubscriberConfig {
	c.Parameter = json.RawMessage(fmt.Sprintf(`{"id":%d}`, agentID))
	return c
}

// Validate checks the constraints that must hold before registration.
func (c SubscriberConfig) Validate() error {
	if !validSubscriberTypes[c.Type] {
		return fmt.Errorf("%w: unknown subscriber type %q", ErrValidation, c.Type)
	}
	if c.Type == AgentAction && !c.HasParameter() {
		return fmt.Errorf("%w: AGENT_ACTION subscriber must have an agent ID parameter", ErrValidation)
	}
	return nil
}

// SubscriberRecord is a subscriber registered with the instance under ID.
type SubscriberRecord struct {
	Config SubscriberConfig
	ID     int64
}
