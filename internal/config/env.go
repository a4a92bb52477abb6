package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvPort      = "PLACE_PORT"
	EnvDim       = "PLACE_DIM"
	EnvHTTPAddr  = "PLACE_HTTP_ADDR"
	EnvRedisURL  = "PLACE_REDIS_URL"
	EnvInstance  = "PLACE_INSTANCE"
	EnvCooldown  = "PLACE_COOLDOWN"
	EnvLogLevel  = "PLACE_LOG_LEVEL"
	EnvLogFormat = "PLACE_LOG_FORMAT"
)

// ApplyEnv overrides fields from PLACE_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvDim); ok {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid dim %q", EnvDim, v)
		}
		c.Dim = dim
	}
	if v, ok := lookup(EnvHTTPAddr); ok {
		addr := v
		c.HTTPAddr = &addr
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.RedisURL = v
	}
	if v, ok := lookup(EnvInstance); ok {
		c.Instance = v
	}
	if v, ok := lookup(EnvCooldown); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCooldown, err)
		}
		c.Cooldown = d
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		c.LogFormat = v
	}
	return nil
}
