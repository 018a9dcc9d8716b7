package forcesim

import (
	"encoding/json"
	"fmt"
)

// AgentClass names an agent implementation on the instance.
type AgentClass string

const (
	TrivialAgent         AgentClass = "TrivialAgent"
	ModeledCohortAgent   AgentClass = "ModeledCohortAgent"
	BasicNormalDistAgent AgentClass = "BasicNormalDistAgent"
)

// validAgentClasses maps accepted agent class strings.
var validAgentClasses = map[AgentClass]bool{
	TrivialAgent:         true,
	ModeledCohortAgent:   true,
	BasicNormalDistAgent: true,
}

// ParseAgentClass returns the AgentClass for s, or an error if s is not a known class.
func ParseAgentClass(s string) (AgentClass, error) {
	if !validAgentClasses[AgentClass(s)] {
		return "", fmt.Errorf("unknown agent class %q; valid: TrivialAgent, ModeledCohortAgent, BasicNormalDistAgent", s)
	}
	return AgentClass(s), nil
}

// Direction is the side an agent pushes the price towards.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// AgentConfigBase holds the fields every agent class understands.
type AgentConfigBase struct {
	// ExternalForce must be in [0,100]; out-of-range specs are dropped by AddAgents.
	ExternalForce float64 `json:"external_force"`
	ScheduleEvery int     `json:"schedule_every" validate:"gte=1"`
}

// AgentConfig is the closed set of per-class agent configurations.
type AgentConfig interface {
	Class() AgentClass
	Base() AgentConfigBase
}

// TrivialAgentConfig configures an agent that always takes the same action.
type TrivialAgentConfig struct {
	AgentConfigBase
	Direction     Direction `json:"direction" validate:"oneof=UP DOWN"`
	InternalForce float64   `json:"internal_force" validate:"gte=0,lte=100"`
}

func (TrivialAgentConfig) Class() AgentClass       { return TrivialAgent }
func (c TrivialAgentConfig) Base() AgentConfigBase { return c.AgentConfigBase }

// BasicNormalDistAgentConfig configures an agent sampling its view of the
// price from a normal distribution.
type BasicNormalDistAgentConfig struct {
	AgentConfigBase
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev" validate:"gte=0"`
}

func (BasicNormalDistAgentConfig) Class() AgentClass       { return BasicNormalDistAgent }
func (c BasicNormalDistAgentConfig) Base() AgentConfigBase { return c.AgentConfigBase }

// ModeledCohortAgentConfig configures an agent that updates its price view
// from Subjective info.
type ModeledCohortAgentConfig struct {
	AgentConfigBase

	// Variance of the RV the agent samples from before any info arrives.
	InitialVariance float64 `json:"initial_variance" validate:"gte=0"`

	// Multiplied by the subjectivity_extent of received info to get the new variance.
	VarianceMultiplier float64 `json:"variance_multiplier"`

	// Price vs. view difference that yields the maximum internal force.
	ForceThreshold float64 `json:"force_threshold" validate:"gt=0"`

	DefaultPriceView float64 `json:"default_price_view"`
}

func (ModeledCohortAgentConfig) Class() AgentClass       { return ModeledCohortAgent }
func (c ModeledCohortAgentConfig) Base() AgentConfigBase { return c.AgentConfigBase }

// NewAgentConfig decodes raw into the config type selected by class.
// Unknown fields are rejected so that misspelled options surface as errors.
func NewAgentConfig(class AgentClass, raw json.RawMessage) (AgentConfig, error) {
	switch class {
	case TrivialAgent:
		var c TrivialAgentConfig
		if err := DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case BasicNormalDistAgent:
		var c BasicNormalDistAgentConfig
		if err := DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case ModeledCohortAgent:
		var c ModeledCohortAgentConfig
		if err := DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown agent class %q", class)
	}
}

// AgentSpec describes one simulated actor.
type AgentSpec struct {
	Type   AgentClass
	Config AgentConfig
}

// InForceRange reports whether the spec's external force is in [0,100].
func (s AgentSpec) InForceRange() bool {
	f := s.Config.Base().ExternalForce
	return f >= 0 && f <= 100
}

// AgentRecord is an agent registered with the instance under ID.
type AgentRecord struct {
	Config AgentConfig
	ID     int64
}
