package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of an automation rule set.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	for _, r := range file.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}

// LoadRulesFile reads a YAML rule set from disk. Operators ship rule
// changes as files, without code changes.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return ParseRules(data)
}
