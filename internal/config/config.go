// Package config loads the service's YAML configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		// CodeTTL bounds how long an access-code -> lab mapping may be served
		// from cache.
		CodeTTL string `yaml:"codeTtl"`
	} `yaml:"cache"`
	Auth struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"tokenTtl"`
	} `yaml:"auth"`
	Generation struct {
		// URL of an OpenAI-compatible chat completion endpoint. Empty switches
		// the service to the deterministic placeholder generator.
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"apiKey"`
		Workers int    `yaml:"workers"`
		Queue   int    `yaml:"queue"`
	} `yaml:"generation"`
	Limits struct {
		// UpdatesPerMinute throttles owner settings mutations per user.
		UpdatesPerMinute int `yaml:"updatesPerMinute"`
		Burst            int `yaml:"burst"`
	} `yaml:"limits"`
	Monitor struct {
		// LiveWindow is how recent a heartbeat must be to count as live.
		LiveWindow string `yaml:"liveWindow"`
		// StreamInterval is the websocket snapshot push cadence.
		StreamInterval string `yaml:"streamInterval"`
	} `yaml:"monitor"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
