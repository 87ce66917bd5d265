package config

import (
	"os"
	"strconv"
	"time"
)

type ShareCodeConfig struct {
	CodeLength           int
	CodeTimeout          time.Duration
	MaxGenerationPerUser int
	RateLimitWindow      time.Duration
}

func LoadShareCodeConfig() *ShareCodeConfig {
	return &ShareCodeConfig{
		CodeLength:           getEnvAsInt("SHARE_CODE_LENGTH", 8),
		CodeTimeout:          getEnvAsDuration("SHARE_CODE_TIMEOUT", 15*time.Minute),
		MaxGenerationPerUser: getEnvAsInt("SHARE_CODE_MAX_GEN_PER_USER", 10),
		RateLimitWindow:      getEnvAsDuration("SHARE_CODE_RATE_LIMIT_WINDOW", 1*time.Hour),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
