package extract

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadRules reads an ordered rule list from a YAML/TOML/JSON file with a
// top-level "rules" key. Validation failures reject the whole file so a
// half-loaded rule list can never run.
func LoadRules(path string) ([]Rule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var loaded struct {
		Rules []Rule `mapstructure:"rules"`
	}
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	for i := range loaded.Rules {
		r := &loaded.Rules[i]
		if len(r.Triggers) == 0 {
			return nil, fmt.Errorf("rule %q has no triggers", r.Name)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %q confidence %v outside (0,1]", r.Name, r.Confidence)
		}
		if r.Policy == "" {
			r.Policy = PolicyFirst
		}
		if r.Policy != PolicyFirst && r.Policy != PolicyAll {
			return nil, fmt.Errorf("rule %q has unknown policy %q", r.Name, r.Policy)
		}
	}
	return loaded.Rules, nil
}
