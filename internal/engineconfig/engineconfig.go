// Package engineconfig loads optional YAML overrides for the engine's
// documented defaults (spec §6). It finishes a dependency the teacher's
// go.mod already declared (gopkg.in/yaml.v3) but never wired into any Go
// file in that repository.
package engineconfig

import (
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming an override file.
const EnvVar = "METALGREP_CONFIG"

// Config is a pure overlay: every field is a pointer so "unset" is
// distinguishable from "explicitly zero", and unset fields leave the
// spec's documented default untouched.
type Config struct {
	Capacity               *uint32 `yaml:"capacity"`
	PatternCacheSize       *int    `yaml:"pattern_cache_size"`
	BenchmarkMaxIterations *int    `yaml:"benchmark_max_iterations"`
	ProfileMaxIterations   *int    `yaml:"profile_max_iterations"`
	FileSizeCapBytes       *int64  `yaml:"file_size_cap_bytes"`
}

// Load reads and parses the YAML file at path. A missing path (empty
// string and no METALGREP_CONFIG set) returns a zero Config, not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
