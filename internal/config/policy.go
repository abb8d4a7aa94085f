package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds per-deployment overrides kept in a YAML file next to the data.
//
//	system_prompt: |
//	  You are a helpful bot...
//	listen_only: [Information, announcements]
//	score_threshold: 7
//	rate_limit: 10s
//	commands:
//	  clearcache: false
type Policy struct {
	SystemPrompt   string          `yaml:"system_prompt"`
	ListenOnly     []string        `yaml:"listen_only"`
	ScoreThreshold *int            `yaml:"score_threshold"`
	RateLimit      *time.Duration  `yaml:"rate_limit"`
	Commands       map[string]bool `yaml:"commands"`
}

// LoadPolicy reads the policy file. A missing file is an empty policy.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode policy %s: %w", path, err)
	}
	return p, nil
}

// Apply overlays the policy on top of the environment values.
func (c *Config) Apply(p Policy) {
	if s := strings.TrimSpace(p.SystemPrompt); s != "" {
		c.SystemPrompt = s
	}
	if len(p.ListenOnly) > 0 {
		c.ListenOnly = p.ListenOnly
	}
	if p.ScoreThreshold != nil {
		c.ScoreThreshold = *p.ScoreThreshold
	}
	if p.RateLimit != nil {
		c.RateLimit = *p.RateLimit
	}
	if len(p.Commands) > 0 {
		if c.Commands == nil {
			c.Commands = make(map[string]bool, len(p.Commands))
		}
		for name, on := range p.Commands {
			c.Commands[strings.ToLower(name)] = on
		}
	}
}
