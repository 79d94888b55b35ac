// ABOUTME: YAML configuration for the dashboard: backend URL, poll cadences, grace period, demo settings.
// ABOUTME: File values are defaults; command-line flags override them.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration is a time.Duration that unmarshals from Go duration syntax ("2s").
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

func (d duration) std() time.Duration { return time.Duration(d) }

// fileConfig is the masthead.yaml schema.
type fileConfig struct {
	BackendURL string `yaml:"backend_url"`

	Poll struct {
		List   duration `yaml:"list"`
		Detail duration `yaml:"detail"`
		Slow   duration `yaml:"slow"`
	} `yaml:"poll"`

	GracePeriod duration `yaml:"grace_period"`

	Demo struct {
		Port     int      `yaml:"port"`
		Database string   `yaml:"database"`
		Lag      duration `yaml:"lag"`
	} `yaml:"demo"`
}

// defaultConfig returns the built-in defaults used when no file exists.
func defaultConfig() fileConfig {
	var cfg fileConfig
	cfg.BackendURL = "http://127.0.0.1:8787"
	cfg.Demo.Port = 8787
	cfg.Demo.Database = "masthead-demo.db"
	cfg.Demo.Lag = duration(2 * time.Second)
	return cfg
}

// loadConfig reads the config file at path, layered over the defaults.
// A missing file at the default path is not an error; a missing file at an
// explicitly given path is.
func loadConfig(path string, explicit bool) (fileConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
