// Package util holds small environment helpers shared by the bot and
// console binaries.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// BoolEnv reads a boolean switch from the environment. Unset means fallback;
// truthy spellings are true/1/yes/on, falsy ones false/0/no/off, any case.
// Anything else logs a warning and keeps the fallback so a typo in an env
// file cannot silently flip a flag.
func BoolEnv(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("util.BoolEnv: unrecognized value, keeping fallback", "key", key, "value", raw, "fallback", fallback)
	return fallback
}

// StringEnv reads a string setting, trimming surrounding whitespace. Unset
// or blank values resolve to fallback.
func StringEnv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
