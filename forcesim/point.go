package forcesim

import (
	"encoding/json"
	"fmt"
)

// Point is one streamed sample. For PRICE subscribers Value is the price; for
// AGENT_ACTION subscribers it is the action's internal force, negated when the
// action pushes the price down.
type Point struct {
	Timepoint int64
	Value     float64
}

// agentAction is the wire form of an agent's action in AGENT_ACTION pushes.
type agentAction struct {
	Direction     Direction `json:"direction"`
	InternalForce float64   `json:"internal_force"`
}

// MarshalJSON encodes the point as a [timepoint, value] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Timepoint, p.Value})
}

// UnmarshalJSON accepts [timepoint, number] and [timepoint, action] pairs.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point: expected [timepoint, value], got %d elements", len(pair))
	}
	var tp int64
	if err := json.Unmarshal(pair[0], &tp); err != nil {
		return fmt.Errorf("point timepoint: %w", err)
	}
	var v float64
	if err := json.Unmarshal(pair[1], &v); err != nil {
		var act agentAction
		if aerr := json.Unmarshal(pair[1], &act); aerr != nil {
			return fmt.Errorf("point value: %w", err)
		}
		switch act.Direction {
		case Up:
			v = act.InternalForce
		case Down:
			v = -act.InternalForce
		default:
			return fmt.Errorf("point value: unknown direction %q", act.Direction)
		}
	}
	p.Timepoint = tp
	p.Value = v
	return nil
}
