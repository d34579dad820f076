package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the orchestrator WebSocket endpoint
	ServerURL string `json:"server_url"`
	// UserID identifies the user; an opaque value supplied by the caller
	UserID string `json:"user_id"`
	// SessionID pins a session; empty means a fresh one per run
	SessionID string `json:"session_id,omitempty"`

	// HeartbeatSeconds is the keepalive period once connected
	HeartbeatSeconds int `json:"heartbeat_seconds"`
	// ReconnectBaseMs is the delay before the first reconnect attempt
	ReconnectBaseMs int `json:"reconnect_base_ms"`
	// MaxReconnectAttempts bounds automatic reconnection
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
	// ConnectTimeoutSeconds bounds a single dial
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds"`

	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path,omitempty"`
}

func defaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "cartloop")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(defaultConfigDir(), "assistant.json")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerURL:             "ws://localhost:8000/ws/chat",
		UserID:                "",
		HeartbeatSeconds:      30,
		ReconnectBaseMs:       1000,
		MaxReconnectAttempts:  5,
		ConnectTimeoutSeconds: 10,
		LogLevel:              "info",
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if config.ServerURL == "" {
		config.ServerURL = "ws://localhost:8000/ws/chat"
	}
	if config.HeartbeatSeconds <= 0 {
		config.HeartbeatSeconds = 30
	}
	if config.ReconnectBaseMs <= 0 {
		config.ReconnectBaseMs = 1000
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 5
	}
	if config.ConnectTimeoutSeconds <= 0 {
		config.ConnectTimeoutSeconds = 10
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return config, nil
}

// Save writes the configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// HeartbeatInterval returns the keepalive period as a duration
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ReconnectBase returns the initial reconnect delay as a duration
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

// ConnectTimeout returns the dial timeout as a duration
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}
