package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv applies CORKBOARD_* environment overrides
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CORKBOARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CORKBOARD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Store settings
	if v := os.Getenv("CORKBOARD_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.MaxRetries = n
		}
	}
	if v := os.Getenv("CORKBOARD_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.RetryDelay = d
		}
	}

	// Fetch settings
	if v := os.Getenv("CORKBOARD_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.Timeout = d
		}
	}
	if v := os.Getenv("CORKBOARD_FETCH_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fetch.MaxBytes = n
		}
	}
	if v := os.Getenv("CORKBOARD_PAGE_HOSTS"); v != "" {
		cfg.Fetch.PageHosts = splitList(v)
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
