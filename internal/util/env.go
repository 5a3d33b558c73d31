// Package util holds small parsing helpers for settings that envconfig cannot express.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBool reads the lenient boolean spellings operators tend to use in .env files:
// true/1/yes/on and false/0/no/off, case-insensitive. ok is false for anything else.
func ParseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

// ParseBoolEnv returns the boolean value of key, or def when key is unset or unparsable.
func ParseBoolEnv(key string, def bool) bool {
	raw, set := os.LookupEnv(key)
	if !set || raw == "" {
		return def
	}
	v, ok := ParseBool(raw)
	if !ok {
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}
