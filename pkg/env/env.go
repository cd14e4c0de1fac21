// Package env reads configuration from the process environment. Every getter
// falls back to its default on missing or malformed values; startup never
// fails on a bad variable, it just runs with the default.
package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// GetString returns the variable's value, or def when unset.
func GetString(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// GetStringFromFile resolves a secret: if KEY_FILE points at a readable file
// its trimmed contents win, otherwise the plain KEY variable is used. This is
// the Docker/Kubernetes secret-mount convention.
func GetStringFromFile(key, def string) string {
	if path, ok := lookup(key + "_FILE"); ok {
		if content, err := os.ReadFile(filepath.Clean(path)); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return GetString(key, def)
}

// GetInt parses the variable as an integer.
func GetInt(key string, def int) int {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetBool parses the variable with strconv.ParseBool semantics.
func GetBool(key string, def bool) bool {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetDuration parses the variable as a time.Duration ("30s", "5m").
func GetDuration(key string, def time.Duration) time.Duration {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
