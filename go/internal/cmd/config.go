package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/cinemabooking/go/internal/seathold"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

type Config struct {
	API struct {
		BaseURL        string        `yaml:"base_url"`
		Token          string        `yaml:"token"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"api"`

	Push struct {
		Transport     string `yaml:"transport"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
		Exchange      string `yaml:"exchange"`
		NotifyChannel string `yaml:"notify_channel"`
	} `yaml:"push"`

	Fallback struct {
		Backend     string        `yaml:"backend"`
		Path        string        `yaml:"path"`
		RedisAddr   string        `yaml:"redis_addr"`
		RedisPrefix string        `yaml:"redis_prefix"`
		NATSURL     string        `yaml:"nats_url"`
		NATSBucket  string        `yaml:"nats_bucket"`
		SessionTTL  time.Duration `yaml:"session_ttl"`
	} `yaml:"fallback"`

	Sync struct {
		RetryAttempts int           `yaml:"retry_attempts"`
		RetryInterval time.Duration `yaml:"retry_interval"`
		RedirectDelay time.Duration `yaml:"redirect_delay"`
	} `yaml:"sync"`

	LogLevel string `yaml:"log_level"`
}

const (
	transportWebSocket = "websocket"
	transportNATS      = "nats"
	transportAMQP      = "amqp"
	transportPostgres  = "postgres"
	transportNone      = "none"

	backendMemory   = "memory"
	backendFile     = "file"
	backendRedis    = "redis"
	backendNATS     = "nats"
	backendPostgres = "postgres"
)

func defaultConfig() *Config {
	var c Config
	c.API.BaseURL = "http://localhost:8082"
	c.API.RequestTimeout = 30 * time.Second
	c.Push.Transport = transportWebSocket
	c.Push.SubjectPrefix = push.DefaultSubjectPrefix
	c.Push.Exchange = push.DefaultExchange
	c.Push.NotifyChannel = push.DefaultNotifyChannel
	c.Fallback.Backend = backendFile
	c.Fallback.Path = defaultFallbackPath()
	c.Fallback.RedisAddr = "localhost:6379"
	c.Fallback.RedisPrefix = "cinema"
	c.Fallback.NATSBucket = "booking_timer"
	c.Fallback.SessionTTL = 30 * time.Minute
	retry := seathold.DefaultRetryPolicy()
	c.Sync.RetryAttempts = retry.Attempts
	c.Sync.RetryInterval = retry.Interval
	c.Sync.RedirectDelay = seathold.DefaultRedirectDelay
	c.LogLevel = "info"
	return &c
}

func defaultFallbackPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "booking_timer.yaml"
	}
	return filepath.Join(dir, "cinemabooking", "booking_timer.yaml")
}

// loadConfig reads the YAML file over the defaults and then applies the
// environment. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("BOOKING_API_URL", c.API.BaseURL)
	c.API.Token = getEnv("BOOKING_API_TOKEN", c.API.Token)
	c.API.RequestTimeout = getEnvAsDuration("BOOKING_API_TIMEOUT", c.API.RequestTimeout)
	c.Push.Transport = getEnv("PUSH_TRANSPORT", c.Push.Transport)
	c.Push.URL = getEnv("PUSH_URL", c.Push.URL)
	c.Fallback.Backend = getEnv("FALLBACK_BACKEND", c.Fallback.Backend)
	c.Fallback.Path = getEnv("FALLBACK_PATH", c.Fallback.Path)
	c.Fallback.RedisAddr = getEnv("REDIS_ADDR", c.Fallback.RedisAddr)
	c.Fallback.NATSURL = getEnv("NATS_URL", c.Fallback.NATSURL)
	c.Sync.RetryAttempts = getEnvAsInt("SEAT_HOLD_RETRY_ATTEMPTS", c.Sync.RetryAttempts)
	c.Sync.RetryInterval = getEnvAsDuration("SEAT_HOLD_RETRY_INTERVAL", c.Sync.RetryInterval)
	c.Sync.RedirectDelay = getEnvAsDuration("SEAT_HOLD_REDIRECT_DELAY", c.Sync.RedirectDelay)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c *Config) validate() error {
	switch c.Push.Transport {
	case transportWebSocket, transportNATS, transportAMQP, transportPostgres, transportNone:
	default:
		return fmt.Errorf("unknown push transport %q", c.Push.Transport)
	}
	switch c.Fallback.Backend {
	case backendMemory, backendFile, backendRedis, backendNATS, backendPostgres:
	default:
		return fmt.Errorf("unknown fallback backend %q", c.Fallback.Backend)
	}
	if c.API.BaseURL == "" {
		return errors.New("api base_url is required")
	}
	if c.Sync.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must not be negative, got %d", c.Sync.RetryAttempts)
	}
	if c.Sync.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive, got %s", c.Sync.RetryInterval)
	}
	return nil
}

// webSocketURL returns the push URL, derived from the API base URL when unset.
func (c *Config) webSocketURL() string {
	if c.Push.URL != "" {
		return c.Push.URL
	}
	base := strings.TrimSuffix(c.API.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/seat-hold"
}

func (c *Config) engineConfig() seathold.Config {
	return seathold.Config{
		Retry: seathold.RetryPolicy{
			Attempts: c.Sync.RetryAttempts,
			Interval: c.Sync.RetryInterval,
		},
		TickInterval: time.Second,
		FetchTimeout: c.API.RequestTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
