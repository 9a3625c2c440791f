package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LevelEnvVar names the environment variable read by LevelFromEnv.
const LevelEnvVar = "DENOISER_LOG_LEVEL"

// ParseLevel parses a case-insensitive level name. "warning" is accepted
// as an alias for warn.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// LevelFromEnv reads LevelEnvVar. It returns nil when the variable is unset
// or invalid, leaving the choice to the logger's mode.
func LevelFromEnv() *zapcore.Level {
	value := os.Getenv(LevelEnvVar)
	if value == "" {
		return nil
	}
	level, err := ParseLevel(value)
	if err != nil {
		return nil
	}
	return &level
}
