package loader

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/forcesim/forcesim-client/forcesim"
)

// AgentEntry is a named agent definition. Subscriber, when set, names the
// subscriber definition used to watch each agent created from it.
type AgentEntry struct {
	Spec       forcesim.AgentSpec
	Subscriber string
}

// LoadAgents loads agent definitions from a JSON file or a directory of them.
// Each item is {"type": <agent class>, "subscriber"?: <name>, <config fields>}.
func LoadAgents(log logrus.FieldLogger, path string) (map[string]AgentEntry, error) {
	return loadItems(log, "agent", path, buildAgent)
}

func buildAgent(raw json.RawMessage) (AgentEntry, error) {
	typ, extra, rest, err := splitType(raw, "subscriber")
	if err != nil {
		return AgentEntry{}, err
	}
	class, err := forcesim.ParseAgentClass(typ)
	if err != nil {
		return AgentEntry{}, err
	}
	config, err := forcesim.NewAgentConfig(class, rest)
	if err != nil {
		return AgentEntry{}, fmt.Errorf("%s config: %w", class, err)
	}
	if err := validate.Struct(config); err != nil {
		return AgentEntry{}, fmt.Errorf("%s config: %w", class, err)
	}

	entry := AgentEntry{Spec: forcesim.AgentSpec{Type: class, Config: config}}
	if ref, ok := extra["subscriber"]; ok {
		if err := json.Unmarshal(ref, &entry.Subscriber); err != nil {
			return AgentEntry{}, fmt.Errorf("subscriber: %w", err)
		}
	}
	return entry, nil
}

// LoadSubscribers loads subscriber definitions from a JSON file or a
// directory of them. Each item is a SubscriberConfig; granularity and addr
// take their defaults when absent.
func LoadSubscribers(log logrus.FieldLogger, path string) (map[string]forcesim.SubscriberConfig, error) {
	return loadItems(log, "subscriber", path, buildSubscriber)
}

func buildSubscriber(raw json.RawMessage) (forcesim.SubscriberConfig, error) {
	var config forcesim.SubscriberConfig
	if err := forcesim.DecodeStrict(raw, &config); err != nil {
		return forcesim.SubscriberConfig{}, err
	}
	if _, err := forcesim.ParseSubscriberType(string(config.Type)); err != nil {
		return forcesim.SubscriberConfig{}, err
	}
	config = config.WithDefaults()
	if err := validate.Struct(config); err != nil {
		return forcesim.SubscriberConfig{}, err
	}
	return config, nil
}

// LoadInfo loads info definitions from a JSON file or a directory of them.
// Each item is {"type": <info type>, <info fields>}.
func LoadInfo(log logrus.FieldLogger, path string) (map[string]forcesim.Info, error) {
	return loadItems(log, "info", path, buildInfo)
}

func buildInfo(raw json.RawMessage) (forcesim.Info, error) {
	var tagged struct {
		Type forcesim.InfoType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, err
	}
	info, err := forcesim.NewInfo(tagged.Type, raw)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(info); err != nil {
		return nil, err
	}
	return info, nil
}
