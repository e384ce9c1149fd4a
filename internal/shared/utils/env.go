package utils

import (
	"os"
	"strings"
)

// GetEnv returns the value of the environment variable or the fallback when unset
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetEnvList splits a comma separated environment variable, dropping empty entries
func GetEnvList(key string, fallback []string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}

	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
