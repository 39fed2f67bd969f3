// Package config loads loom.yaml: engine defaults, default tool
// directories, adapter timeouts, and autosave policy (SPEC_FULL.md's
// Configuration section). Grounded on the teacher's
// internal/config/config.go Load (read, expand env, strict yaml
// decode) and cmd/nexus/config.go's profile-path resolution, reduced
// to this module's much smaller configuration surface. API credentials
// are never read from this file — internal/credentials owns that.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full shape of loom.yaml.
type Config struct {
	Engine         string        `yaml:"engine"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	SystemMessage  string        `yaml:"system_message"`
	Autosave       bool          `yaml:"autosave"`
	ToolDirs       []string      `yaml:"tool_dirs"`
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
}

// Default returns the configuration a bare `loom` invocation uses when
// no loom.yaml is present.
func Default() *Config {
	return &Config{
		Engine:         "claude-sonnet-4",
		MaxTokens:      4096,
		Temperature:    1.0,
		Autosave:       true,
		AdapterTimeout: 60 * time.Second,
	}
}

// Load reads path, expanding ${VAR}/$VAR references in the file against
// the process environment before parsing, and strictly rejects unknown
// yaml keys (same discipline as the teacher's decoder.KnownFields(true)).
// A missing file is not an error: Load returns Default() so a fresh
// `loom run` works with no configuration file at all.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	cfg := Default()
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single document", path)
	}
	return cfg, nil
}
