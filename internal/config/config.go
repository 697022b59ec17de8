// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	GRPCPort      string
	FrontendURL   string
	InviteBaseURL string
	DBPath        string
	Debug         bool
	DefaultAgent  AgentConfig
	Timeout       TimeoutConfig
	SSE           SSEConfig
	RateLimit     RateLimitConfig
}

// AgentConfig describes the agent created on first start.
type AgentConfig struct {
	Name  string
	Email string
}

// TimeoutConfig groups operational timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
	HealthWatch time.Duration
}

// SSEConfig controls the room event stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	ReplaySize        int
}

// RateLimitConfig limits customer invite lookups per client IP.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "9090"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		InviteBaseURL: getEnv("INVITE_BASE_URL", "http://localhost:5173"),
		DBPath:        getEnv("DB_PATH", "./data/vkyc.db"),
		Debug:         getEnvBool("LOG_DEBUG", false),
		DefaultAgent: AgentConfig{
			Name:  getEnv("DEFAULT_AGENT_NAME", "Default Agent"),
			Email: getEnv("DEFAULT_AGENT_EMAIL", "agent@example.com"),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 2*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			HealthWatch: getEnvDuration("HEALTH_WATCH_INTERVAL", 15*time.Second),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			ReplaySize:        getEnvInt("SSE_REPLAY_SIZE", 256),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("INVITE_RATE_LIMIT", 30),
			WindowDuration:    getEnvDuration("INVITE_RATE_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GRPCPort == "" {
		return fmt.Errorf("GRPC_PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DefaultAgent.Email == "" {
		return fmt.Errorf("DEFAULT_AGENT_EMAIL cannot be empty")
	}
	if c.Timeout.HealthCheck <= 0 || c.Timeout.Shutdown <= 0 || c.Timeout.HealthWatch <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.SSE.ReplaySize <= 0 {
		return fmt.Errorf("SSE_REPLAY_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("INVITE_RATE_LIMIT and INVITE_RATE_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// InviteURL returns the customer link for an invite token.
func (c *Config) InviteURL(token string) string {
	return strings.TrimRight(c.InviteBaseURL, "/") + "/invite/" + token
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
