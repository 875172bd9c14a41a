package config

import (
	"os"
	"strconv"
	"time"
)

// GetEnv retrieves an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MustGetEnv retrieves an environment variable or panics if not set
func MustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Required environment variable not set: " + key)
	}
	return value
}

// GetEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparseable.
func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool retrieves a boolean environment variable ("true", "1", "yes")
// or returns a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "TRUE", "1", "yes":
		return true
	case "false", "FALSE", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// GetEnvDuration retrieves a duration environment variable ("30s", "5m") or
// returns a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
