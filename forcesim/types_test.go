package forcesim

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoint_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Point
		wantErr bool
	}{
		{"price", `[3, 1000.5]`, Point{Timepoint: 3, Value: 1000.5}, false},
		{"action up", `[4, {"direction": "UP", "internal_force": 2.5}]`, Point{Timepoint: 4, Value: 2.5}, false},
		{"action down", `[5, {"direction": "DOWN", "internal_force": 2.5}]`, Point{Timepoint: 5, Value: -2.5}, false},
		{"unknown direction", `[5, {"direction": "SIDEWAYS", "internal_force": 1}]`, Point{}, true},
		{"one element", `[5]`, Point{}, true},
		{"not an array", `{"t": 1}`, Point{}, true},
		{"fractional timepoint", `[1.5, 2]`, Point{}, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var p Point
			err := json.Unmarshal([]byte(tc.in), &p)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, p)
		})
	}
}

func TestPoint_MarshalJSON_Pair(t *testing.T) {
	data, err := json.Marshal([]Point{{Timepoint: 1, Value: 2.5}})
	require.NoError(t, err)
	assert.JSONEq(t, `[[1, 2.5]]`, string(data))
}

func TestNewAgentConfig_SelectsTypeByClass(t *testing.T) {
	// GIVEN a modeled cohort config
	raw := json.RawMessage(`{"external_force": 0.1, "schedule_every": 10, "initial_variance": 1,
		"variance_multiplier": 0.1, "force_threshold": 1, "default_price_view": 2}`)

	// WHEN built for its class
	cfg, err := NewAgentConfig(ModeledCohortAgent, raw)

	// THEN the concrete config carries every field
	require.NoError(t, err)
	mc, ok := cfg.(ModeledCohortAgentConfig)
	require.True(t, ok)
	assert.Equal(t, ModeledCohortAgent, mc.Class())
	assert.Equal(t, AgentConfigBase{ExternalForce: 0.1, ScheduleEvery: 10}, mc.Base())
	assert.Equal(t, 1.0, mc.ForceThreshold)
}

func TestNewAgentConfig_RejectsMismatches(t *testing.T) {
	_, err := NewAgentConfig(TrivialAgent, json.RawMessage(`{"external_force": 1, "mean": 3}`))
	assert.Error(t, err, "field of another class")

	_, err = NewAgentConfig(AgentClass("Oracle"), json.RawMessage(`{}`))
	assert.Error(t, err, "unknown class")

	_, err = ParseAgentClass("Oracle")
	assert.Error(t, err)
}

func TestAgentConfig_MarshalsFlat(t *testing.T) {
	cfg := TrivialAgentConfig{
		AgentConfigBase: AgentConfigBase{ExternalForce: 1, ScheduleEvery: 2},
		Direction:       Down,
		InternalForce:   7,
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"external_force":1,"schedule_every":2,"direction":"DOWN","internal_force":7}`, string(data))
}

func TestAgentSpec_InForceRange(t *testing.T) {
	for force, want := range map[float64]bool{-0.1: false, 0: true, 55: true, 100: true, 100.5: false} {
		spec := AgentSpec{Type: BasicNormalDistAgent, Config: BasicNormalDistAgentConfig{
			AgentConfigBase: AgentConfigBase{ExternalForce: force, ScheduleEvery: 1},
		}}
		assert.Equal(t, want, spec.InForceRange(), "force %v", force)
	}
}

func TestSubjectiveInfo_MarshalJSON_FlatWithExactPrice(t *testing.T) {
	info := SubjectiveInfo{
		SubjectivityExtent: 0.5,
		PriceIndication:    decimal.RequireFromString("1000.000000000001"),
		IsRelative:         true,
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Subjective","subjectivity_extent":0.5,"price_indication":1000.000000000001,"is_relative":true}`, string(data))
}

func TestNewInfo_RequiresAllFields(t *testing.T) {
	_, err := NewInfo(Subjective, json.RawMessage(`{"type":"Subjective","subjectivity_extent":1,"is_relative":false}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_indication")

	_, err = NewInfo(InfoType("Rumor"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestSubscriberConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SubscriberConfig
		wantErr bool
	}{
		{"price", SubscriberConfig{Type: Price, Port: 5000}, false},
		{"agent action with parameter", SubscriberConfig{Type: AgentAction, Port: 5000}.WithAgentParameter(3), false},
		{"agent action without parameter", SubscriberConfig{Type: AgentAction, Port: 5000}, true},
		{"agent action with null parameter", SubscriberConfig{Type: AgentAction, Port: 5000, Parameter: json.RawMessage("null")}, true},
		{"unknown type", SubscriberConfig{Type: "VOLUME", Port: 5000}, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSubscriberConfig_WithDefaults(t *testing.T) {
	cfg := SubscriberConfig{Type: Price, Port: 5000}.WithDefaults()
	assert.Equal(t, 1, cfg.Granularity)
	assert.Equal(t, DefaultSubscriberAddr, cfg.Addr)

	kept := SubscriberConfig{Type: Price, Port: 5000, Granularity: 5, Addr: "127.0.0.1"}.WithDefaults()
	assert.Equal(t, 5, kept.Granularity)
	assert.Equal(t, "127.0.0.1", kept.Addr)
}

func TestSubscriberConfig_WithAgentParameter_IDObject(t *testing.T) {
	cfg := SubscriberConfig{Type: AgentAction, Port: 5000}.WithAgentParameter(42)
	assert.JSONEq(t, `{"id":42}`, string(cfg.Parameter))

	var param AgentParameter
	require.NoError(t, json.Unmarshal(cfg.Parameter, &param))
	assert.Equal(t, "42", string(param.ID))
}

func TestDecodeStrict(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, DecodeStrict(json.RawMessage(` {"a": 1} `), &v))
	assert.Equal(t, 1, v.A)

	assert.Error(t, DecodeStrict(json.RawMessage(`{"a": 1}{"a": 2}`), &v))
	assert.Error(t, DecodeStrict(json.RawMessage(`{"a": 1}]`), &v))
	assert.Error(t, DecodeStrict(json.RawMessage(`{"a": 1, "b": 2}`), &v))
}
