package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the session tracker configuration, loaded from YAML with
// environment variable fallbacks for deployment-specific values.
type Config struct {
	Session struct {
		TurnDurationSeconds int `yaml:"turn_duration_seconds"`
	} `yaml:"session"`
	Storage struct {
		Driver string `yaml:"driver"` // "memory" (default) or "postgres"
	} `yaml:"storage"`
	Relay struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"relay"`
	Tokens       map[string]TokenIdentity `yaml:"tokens"`
	Participants []SeedParticipant        `yaml:"participants"`
}

// TokenIdentity maps a session token onto a participant and role.
type TokenIdentity struct {
	ParticipantID string `yaml:"participant_id"`
	Arbiter       bool   `yaml:"arbiter"`
}

// SeedParticipant is a participant with starting resource balances.
type SeedParticipant struct {
	ID        string         `yaml:"id"`
	Resources map[string]int `yaml:"resources"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Session.TurnDurationSeconds = 60
	cfg.Storage.Driver = "memory"
	return cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Session.TurnDurationSeconds <= 0 {
		config.Session.TurnDurationSeconds = 60
	}
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
