// Package config loads the YAML configuration file that drives the
// ambient concerns SPEC_FULL.md adds around the core pipeline: log
// level/destination, charset alias overrides, and per-method validation
// hooks.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LogConfig controls logging destination and verbosity.
type LogConfig struct {
	Level string `yaml:"level"` // logrus level name; defaults to "info"
	File  string `yaml:"file"`  // path to append logs to; empty means stderr
}

// Charsets lets an operator teach the decoder alternate names for an
// encoding beyond what golang.org/x/text/encoding/ianaindex recognises.
type Charsets struct {
	Aliases map[string]string `yaml:"aliases"` // declared charset name -> IANA name
}

// Config is the root of a lspmitm configuration file.
type Config struct {
	Log      LogConfig `yaml:"log"`
	Charsets Charsets  `yaml:"charsets"`

	// MethodHooks names which methods get extra params validation beyond
	// the shallow default (spec.md §4.3's "deliberately shallow extension
	// point"). The value is only descriptive: it is loaded but not read by
	// the validator, and no method-specific rules exist in code.
	MethodHooks []string `yaml:"method_hooks"`
}

// Default returns a Config with the same defaults an absent config file
// would imply.
func Default() Config {
	return Config{Log: LogConfig{Level: "info"}}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error; Default() is returned instead, matching the teacher's
// project.yaml "absent registration is fine, fall back" convention.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}
