package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRules reads a YAML rules file and returns a compiled engine.
// Returns (nil, nil) for an empty path so callers can treat rules as
// strictly optional.
func LoadRules(path string) (*CELEngine, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	type ruleConfig struct {
		Rules []DynamicRule `yaml:"rules"`
	}
	var cfg ruleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rules yaml: %w", err)
	}

	engine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	if err := engine.Compile(cfg.Rules); err != nil {
		return nil, err
	}
	return engine, nil
}
