// Package loader reads the run configuration (YAML) and the named agent,
// subscriber and info definitions (JSON) a run is assembled from.
package loader

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultIterBlock is the number of iterations run per info block when the
// configuration does not set iter_block_size.
const DefaultIterBlock = 100

// SubscriberOptions are the per-subscriber settings of a run.
type SubscriberOptions struct {
	// Graph records the subscriber's points and exports them at the end of the run.
	Graph bool `yaml:"graph"`
}

// Config selects which loaded definitions a run uses and how it proceeds.
type Config struct {
	// Agents maps an agent definition name to the number of agents to create.
	Agents map[string]int `yaml:"agents"`
	// Subscribers maps a subscriber definition name to its options.
	Subscribers   map[string]SubscriberOptions `yaml:"subscribers"`
	OutputDir     string                       `yaml:"output_dir"`
	IterBlockSize *int                         `yaml:"iter_block_size,omitempty"`
	// InfoSequence lists, per block, the names of the infos emitted before it runs.
	InfoSequence [][]string `yaml:"info_sequence"`
}

// LoadConfig reads and parses a YAML run configuration.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that all fields in the config are valid.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	for name, n := range c.Agents {
		if n < 0 {
			return fmt.Errorf("agents[%s]: count must be non-negative, got %d", name, n)
		}
	}
	if c.IterBlockSize != nil && *c.IterBlockSize <= 0 {
		return fmt.Errorf("iter_block_size must be positive, got %d", *c.IterBlockSize)
	}
	return nil
}

// IterBlock returns the configured iteration block size or DefaultIterBlock.
func (c *Config) IterBlock() int {
	if c.IterBlockSize == nil {
		return DefaultIterBlock
	}
	return *c.IterBlockSize
}
