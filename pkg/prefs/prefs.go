// Package prefs persists per-user chat preferences between runs.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Preferences holds the user's saved query defaults.
type Preferences struct {
	UserID                string `yaml:"user_id"`
	ProjectID             *int   `yaml:"project_id,omitempty"`
	MaxResearchIterations int    `yaml:"max_research_iterations"`
	EnableTracing         bool   `yaml:"enable_tracing"`
	UseMemory             bool   `yaml:"use_memory"`
	ShowCitations         bool   `yaml:"show_citations"`
}

// Defaults returns preferences with the standard query defaults applied.
func Defaults() *Preferences {
	return &Preferences{
		MaxResearchIterations: 3,
		EnableTracing:         true,
		UseMemory:             true,
		ShowCitations:         true,
	}
}

// DefaultPath returns the standard preferences file location
// (~/.agentquery/prefs.yaml).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".agentquery", "prefs.yaml"), nil
}

// Load reads preferences from a YAML file. A missing file is not an
// error; defaults are returned instead.
func Load(path string) (*Preferences, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the user's own config
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences file: %w", err)
	}

	p := Defaults()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}

	if p.MaxResearchIterations <= 0 {
		p.MaxResearchIterations = 3
	}
	return p, nil
}

// Save writes preferences to a YAML file, creating the parent
// directory if needed.
func Save(p *Preferences, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write preferences file: %w", err)
	}
	return nil
}
