package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the first non-empty value among keys, or fallback.
func String(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return fallback
}

// Int returns the integer value of key, or fallback if the variable is unset,
// empty, or not parseable.
func Int(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

// Float returns the float value of key, or fallback.
func Float(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// Bool returns the boolean value of key, or fallback.
func Bool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// Millis reads key as a whole number of milliseconds.
func Millis(key string, fallback time.Duration) time.Duration {
	if v := Int(key, -1); v >= 0 {
		return time.Duration(v) * time.Millisecond
	}
	return fallback
}
