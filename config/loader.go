package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/creastat/discussions"
)

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load resolves the store configuration from an optional YAML file and the
// process environment. Values in the file win over the environment; unset
// fields fall back to the environment and then to the defaults.
func Load(path string) (discussions.Config, error) {
	var cfg discussions.Config
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return discussions.Config{}, err
		}
	}
	return FromEnv(cfg, os.LookupEnv)
}

// LoadFile reads a YAML config file, expanding ${VAR} references first.
func LoadFile(path string) (discussions.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return discussions.Config{}, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg discussions.Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return discussions.Config{}, fmt.Errorf("parse YAML: %w", err)
	}
	return cfg, nil
}

// FromEnv fills the unset fields of cfg from lookup and applies defaults.
func FromEnv(cfg discussions.Config, lookup LookupFunc) (discussions.Config, error) {
	if cfg.Driver == "" {
		if v, ok := lookup(discussions.EnvDriver); ok {
			cfg.Driver = discussions.Driver(v)
		}
	}
	fillString(&cfg.APIKey, discussions.EnvAPIKey, lookup)
	fillString(&cfg.Environment, discussions.EnvEnvironment, lookup)
	fillString(&cfg.IndexName, discussions.EnvIndexName, lookup)
	fillString(&cfg.Namespace, discussions.EnvNamespace, lookup)

	if cfg.Dimension == 0 {
		if v, ok := lookup(discussions.EnvDimension); ok && v != "" {
			dim, err := strconv.Atoi(v)
			if err != nil {
				return discussions.Config{}, fmt.Errorf("%s: %w", discussions.EnvDimension, err)
			}
			cfg.Dimension = dim
		}
	}

	if cfg.ReadyTimeout == 0 {
		if v, ok := lookup(discussions.EnvReadyTimeout); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return discussions.Config{}, fmt.Errorf("%s: %w", discussions.EnvReadyTimeout, err)
			}
			cfg.ReadyTimeout = d
		}
	}

	return cfg.WithDefaults(), nil
}

func fillString(dst *string, key string, lookup LookupFunc) {
	if *dst != "" {
		return
	}
	if v, ok := lookup(key); ok {
		*dst = v
	}
}
