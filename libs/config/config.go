// Package config reads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// String returns the value of key, or fallback when the variable is
// unset or empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RequiredString returns the value of key and errors when it is missing,
// so services fail at startup instead of at first use.
func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// Port reads a TCP port number, falling back when unset.
func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}
