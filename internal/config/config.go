package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is left unset.
const (
	DefaultHTTPAddr     = ":8080"
	DefaultInstance     = "default"
	DefaultHistoryLimit = 10000
	DefaultLoginTimeout = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultSendQueue    = 256
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Config represents the place.yml server configuration.
type Config struct {
	Port int `yaml:"port"` // Required: TCP port for the game protocol
	Dim  int `yaml:"dim"`  // Required: board side length, 1..256

	// HTTPAddr serves /healthz, /metrics and /ws. Empty string disables it;
	// a missing key takes DefaultHTTPAddr.
	HTTPAddr       *string  `yaml:"http_addr,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// Redis mirror; disabled when RedisURL is empty
	RedisURL     string `yaml:"redis_url,omitempty"`
	Instance     string `yaml:"instance,omitempty"`
	HistoryLimit int    `yaml:"history_limit,omitempty"`

	Cooldown     time.Duration `yaml:"cooldown,omitempty"` // Per-session placement interval; 0 = unlimited
	LoginTimeout time.Duration `yaml:"login_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	SendQueue    int           `yaml:"send_queue,omitempty"`

	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"` // "text" or "json"
}

// Validate performs strict validation on the configuration and fills in
// defaults for unset optional fields.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Dim == 0 {
		return fmt.Errorf("dim is required")
	}
	if c.Dim < 1 || c.Dim > place.MaxDim {
		return fmt.Errorf("dim must be between 1 and %d, got %d", place.MaxDim, c.Dim)
	}

	if c.HTTPAddr == nil {
		addr := DefaultHTTPAddr
		c.HTTPAddr = &addr
	}

	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if strings.ContainsAny(c.Instance, ": \t\n") {
		return fmt.Errorf("instance %q must not contain ':' or whitespace", c.Instance)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be >= 0, got %d", c.HistoryLimit)
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}

	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %s", c.Cooldown)
	}
	if c.LoginTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.LoginTimeout == 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SendQueue < 0 {
		return fmt.Errorf("send_queue must be >= 0, got %d", c.SendQueue)
	}
	if c.SendQueue == 0 {
		c.SendQueue = DefaultSendQueue
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level '%s'", c.LogLevel)
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format '%s': must be 'text' or 'json'", c.LogFormat)
	}

	return nil
}

// Addr returns the game listener address, ":<port>".
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// HTTPEnabled reports whether the HTTP side server should run.
func (c *Config) HTTPEnabled() bool {
	return c.HTTPAddr != nil && *c.HTTPAddr != ""
}

// Read parses a place.yml without validating it, so callers can layer
// environment and command-line overrides before calling Validate.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

// Load reads and validates a place.yml.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
