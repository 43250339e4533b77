package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ActorDefinition is the parsed actor.yaml that describes a deployable actor
type ActorDefinition struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	InputSchema string            `yaml:"input_schema,omitempty"` // path to JSON schema file
	Environment map[string]string `yaml:"environment,omitempty"`
	RunOptions  RunOptions        `yaml:"run_options,omitempty"`
}

// RunOptions holds default resource and timeout settings for runs
type RunOptions struct {
	TimeoutSecs int `yaml:"timeout_secs,omitempty"`
	MemoryMB    int `yaml:"memory_mb,omitempty"`
}

// LoadActorDefinition reads and validates an actor.yaml file
func LoadActorDefinition(path string) (*ActorDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read actor definition: %w", err)
	}

	var def ActorDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse actor definition: %w", err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("actor definition missing required field: name")
	}
	if def.Version == "" {
		return nil, fmt.Errorf("actor definition missing required field: version")
	}

	return &def, nil
}

// Save writes the definition back to disk as YAML
func (d *ActorDefinition) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal actor definition: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write actor definition: %w", err)
	}
	return nil
}
