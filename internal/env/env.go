// Package env reads the configuration of the command-line programs from
// environment variables. Every lookup is logged at debug level, with the
// values of secret-bearing variables masked.
package env

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger for a command-line program. The level
// is debug when LDAP_DEBUG is set and info otherwise.
func NewLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("LDAP_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC1123Z,
	}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Require returns the value of the environment variable key, or an error
// when it is unset or empty.
func Require(log *zerolog.Logger, key string) (string, error) {
	s := Get(log, key)
	if s == "" {
		return "", fmt.Errorf("environment variable not set: %s", key)
	}
	return s, nil
}

// OptionalDuration parses the environment variable key as a duration and
// falls back to defaultValue when the variable is unset.
func OptionalDuration(log *zerolog.Logger, key string, defaultValue time.Duration) (time.Duration, error) {
	s := Get(log, key)
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return d, nil
}

// Get returns the value of the environment variable key, which may be empty.
func Get(log *zerolog.Logger, key string) string {
	s := os.Getenv(key)
	if strings.Contains(strings.ToUpper(key), "SECRET") ||
		strings.Contains(strings.ToUpper(key), "PASSWORD") ||
		strings.Contains(strings.ToUpper(key), "TOKEN") {
		log.Debug().Str("env", key).Str("value", hide(s)).Send()
	} else {
		log.Debug().Str("env", key).Str("value", s).Send()
	}
	return s
}

func hide(s string) string {
	return strings.Repeat("*", utf8.RuneCountInString(s))
}
