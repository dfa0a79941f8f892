// Package config loads Flotilla configuration: struct defaults first, then
// an optional YAML file, then FLOTILLA_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/flotilla/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "FLOTILLA_CONFIG"

// envPrefix namespaces environment overrides, e.g.
// FLOTILLA_SERVER__PORT=9090 sets server.port.
const envPrefix = "FLOTILLA_"

// Config is the full configuration tree shared by server and agent.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Publish  PublishConfig  `koanf:"publish"`
	Tracking TrackingConfig `koanf:"tracking"`
	Agent    AgentConfig    `koanf:"agent"`
}

type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type SecurityConfig struct {
	// IdentitySecret is the HMAC key shared with the identity provider.
	IdentitySecret  string        `koanf:"identity_secret"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type PublishConfig struct {
	// MinInterval is the minimum gap between accepted location writes.
	MinInterval time.Duration `koanf:"min_interval"`
}

type TrackingConfig struct {
	Interval       time.Duration `koanf:"interval"`
	ForegroundOnly bool          `koanf:"foreground_only"`
}

// AgentConfig configures the device agent binary.
type AgentConfig struct {
	ServerURL string `koanf:"server_url"`
	UserID    string `koanf:"user_id"`
	Token     string `koanf:"token"`
	StateFile string `koanf:"state_file"`
	// JoinCode, when set and no group is active, joins that group on start.
	JoinCode string  `koanf:"join_code"`
	StartLat float64 `koanf:"start_lat"`
	StartLon float64 `koanf:"start_lon"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/flotilla.db",
		},
		Security: SecurityConfig{
			IdentitySecret:  "",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Publish: PublishConfig{
			MinInterval: 30 * time.Second,
		},
		Tracking: TrackingConfig{
			Interval:       time.Minute,
			ForegroundOnly: true,
		},
		Agent: AgentConfig{
			ServerURL: "http://localhost:8080",
			StateFile: "./data/agent-state.json",
			StartLat:  21.0285, // Hoan Kiem Lake
			StartLon:  105.8542,
		},
	}
}

// Load builds the configuration. path may be empty, in which case the
// default locations and ConfigPathEnvVar are consulted.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// envTransform maps FLOTILLA_SERVER__PORT to server.port. Double
// underscores nest; single underscores stay part of the key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
