package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/forcesim/forcesim-client/forcesim"
)

type subscriberEndpoint struct {
	RemoteAddr string `json:"remote_addr"`
	RemotePort int    `json:"remote_port"`
}

type subscriberConfigBody struct {
	Type        forcesim.SubscriberType `json:"type"`
	Granularity int                     `json:"granularity"`
	Endpoint    subscriberEndpoint      `json:"endpoint"`
}

type subscriberAddItem struct {
	Parameter json.RawMessage      `json:"parameter"`
	Config    subscriberConfigBody `json:"config"`
}

// subscriberAddItems moves addr/port into a nested endpoint and hoists the
// parameter out of the config, defaulting it to an empty object.
func subscriberAddItems(configs []forcesim.SubscriberConfig) []subscriberAddItem {
	items := make([]subscriberAddItem, len(configs))
	for i, cfg := range configs {
		cfg = cfg.WithDefaults()
		param := json.RawMessage(`{}`)
		if cfg.HasParameter() {
			param = cfg.Parameter
		}
		items[i] = subscriberAddItem{
			Parameter: param,
			Config: subscriberConfigBody{
				Type:        cfg.Type,
				Granularity: cfg.Granularity,
				Endpoint:    subscriberEndpoint{RemoteAddr: cfg.Addr, RemotePort: cfg.Port},
			},
		}
	}
	return items
}

// AddSubscribers registers subscribers with the instance and returns a
// record for every config the instance assigned an id to. Positions whose
// returned value is a string are per-item error markers and are skipped.
func (c *Client) AddSubscribers(ctx context.Context, configs []forcesim.SubscriberConfig) ([]forcesim.SubscriberRecord, *Response, error) {
	c.log.Debugf("add_subscribers on %d items", len(configs))
	resp, err := c.request(ctx, http.MethodPost, "/subscribers/add", subscriberAddItems(configs))
	if err != nil {
		return nil, nil, err
	}
	if resp.Data == nil || resp.Data.Type != MultipleBarelist {
		return nil, resp, integrityf(resp, "add_subscribers expects Multiple_barelist data, got %q", resp.DataType)
	}

	var records []forcesim.SubscriberRecord
	for i, it := range resp.Data.Bare {
		if i >= len(configs) {
			return nil, resp, integrityf(resp, "add_subscribers sent %d configs but received %d results", len(configs), len(resp.Data.Bare))
		}
		if it.Err != nil || isJSONString(it.Value) {
			continue
		}
		var id int64
		if err := json.Unmarshal(it.Value, &id); err != nil {
			return nil, resp, &IntegrityError{RawText: resp.RawText, Err: err,
				Message: fmt.Sprintf("add_subscribers result %d is not a subscriber id", i)}
		}
		records = append(records, forcesim.SubscriberRecord{Config: configs[i], ID: id})
	}
	return records, resp, nil
}

// DelSubscribers unregisters subscribers. The response is a
// Multiple_pairlist of id to true or an error description.
func (c *Client) DelSubscribers(ctx context.Context, records []forcesim.SubscriberRecord) (*Response, error) {
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return c.request(ctx, http.MethodPost, "/subscribers/delete", ids)
}

func isJSONString(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '"'
}
