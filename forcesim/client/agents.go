package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/forcesim/forcesim-client/forcesim"
)

// AgentRequest asks for Count agents built from Spec.
type AgentRequest struct {
	Spec  forcesim.AgentSpec
	Count int
}

// AddAgentsResult is the outcome of AddAgents.
type AddAgentsResult struct {
	Response *Response
	// Records holds, for each request that was sent, one record per created agent.
	Records [][]forcesim.AgentRecord
	// Accepted holds the requests that were sent, aligned with Records.
	Accepted []AgentRequest
	// Dropped counts requests rejected locally for an out-of-range external force.
	Dropped int
}

type agentAddItem struct {
	Type   forcesim.AgentClass  `json:"type"`
	Config forcesim.AgentConfig `json:"config"`
	Count  int                  `json:"count"`
}

// agentAddResult is the object form of an add_agents item. The instance
// sends a bare id array; the object form is accepted as well.
type agentAddResult struct {
	IDs []int64 `json:"ids"`
}

func decodeAgentIDs(raw json.RawMessage) ([]int64, error) {
	var ids []int64
	err := json.Unmarshal(raw, &ids)
	if err == nil {
		return ids, nil
	}
	var ar agentAddResult
	if oerr := json.Unmarshal(raw, &ar); oerr != nil || ar.IDs == nil {
		return nil, err
	}
	return ar.IDs, nil
}

// AddAgents registers agents with the instance. Requests whose external force
// is outside [0,100] are dropped before sending. Each accepted request must
// come back with exactly Count identifiers.
func (c *Client) AddAgents(ctx context.Context, reqs []AgentRequest) (*AddAgentsResult, error) {
	result := &AddAgentsResult{}
	items := make([]agentAddItem, 0, len(reqs))
	for i, r := range reqs {
		if r.Spec.Config == nil {
			return nil, fmt.Errorf("%w: agent request %d has no config", forcesim.ErrValidation, i)
		}
		if r.Count <= 0 {
			return nil, fmt.Errorf("%w: agent request %d: count must be positive, got %d", forcesim.ErrValidation, i, r.Count)
		}
		if !r.Spec.InForceRange() {
			result.Dropped++
			continue
		}
		result.Accepted = append(result.Accepted, r)
		items = append(items, agentAddItem{Type: r.Spec.Type, Config: r.Spec.Config, Count: r.Count})
	}
	if result.Dropped > 0 {
		c.log.Warnf("add_agents: dropped %d of %d agent specs with external_force outside [0,100]", result.Dropped, len(reqs))
	}
	if len(items) == 0 {
		return result, nil
	}

	resp, err := c.request(ctx, http.MethodPost, "/agent/add", items)
	if err != nil {
		return nil, err
	}
	result.Response = resp

	if resp.Data == nil || resp.Data.Type != MultipleBarelist {
		return nil, integrityf(resp, "add_agents expects Multiple_barelist data, got %q", resp.DataType)
	}
	if len(resp.Data.Bare) != len(items) {
		return nil, integrityf(resp, "add_agents sent %d specs but received %d results", len(items), len(resp.Data.Bare))
	}

	result.Records = make([][]forcesim.AgentRecord, len(items))
	for i, it := range resp.Data.Bare {
		accepted := result.Accepted[i]
		if it.Err != nil {
			return nil, integrityf(resp, "add_agents result %d for spec %+v is an error in an ok response: %s", i, accepted.Spec, it.Err)
		}
		ids, err := decodeAgentIDs(it.Value)
		if err != nil {
			return nil, &IntegrityError{RawText: resp.RawText, Err: err,
				Message: fmt.Sprintf("add_agents result %d for spec %+v is not an id list", i, accepted.Spec)}
		}
		if len(ids) != accepted.Count {
			return nil, integrityf(resp, "add_agents result %d for spec %+v has %d ids, requested %d",
				i, accepted.Spec, len(ids), accepted.Count)
		}
		records := make([]forcesim.AgentRecord, len(ids))
		for j, id := range ids {
			records[j] = forcesim.AgentRecord{Config: accepted.Spec.Config, ID: id}
		}
		result.Records[i] = records
	}
	return result, nil
}

// DeleteAgents removes agents by id. The response is a Multiple_pairlist of
// id to deletion outcome; unknown ids surface as Not_found items of a
// Multiple error response.
func (c *Client) DeleteAgents(ctx context.Context, ids []int64) (*Response, error) {
	if ids == nil {
		ids = []int64{}
	}
	return c.request(ctx, http.MethodPost, "/agent/delete", ids)
}

func integrityf(resp *Response, format string, args ...any) *IntegrityError {
	return &IntegrityError{RawText: resp.RawText, Message: fmt.Sprintf(format, args...)}
}
