package main

import (
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

type Config struct {
	Port          string
	DefaultTTL    time.Duration
	CreateLatency time.Duration
	NATSURL       string
	RabbitMQURL   string
	PGNotify      bool
	NotifyChannel string
	SubjectPrefix string
	LogLevel      string
}

func loadConfig() Config {
	return Config{
		Port:          getEnv("HOLDSIM_PORT", "8082"),
		DefaultTTL:    time.Duration(getEnvAsInt("HOLDSIM_DEFAULT_TTL", 600)) * time.Second,
		CreateLatency: getEnvAsDuration("HOLDSIM_CREATE_LATENCY", 500*time.Millisecond),
		NATSURL:       os.Getenv("NATS_URL"),
		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		PGNotify:      getEnvAsBool("HOLDSIM_PG_NOTIFY", false),
		NotifyChannel: getEnv("HOLDSIM_NOTIFY_CHANNEL", push.DefaultNotifyChannel),
		SubjectPrefix: getEnv("HOLDSIM_SUBJECT_PREFIX", push.DefaultSubjectPrefix),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
