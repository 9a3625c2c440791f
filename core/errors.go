package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeEnvFileMissing   = "ENV_FILE_MISSING"
	ErrCodeMissingConfig    = "MISSING_CONFIG"
	ErrCodeInvalidValue     = "INVALID_VALUE"
	ErrCodeOutOfRange       = "OUT_OF_RANGE"
	ErrCodeManifestNotFound = "MANIFEST_NOT_FOUND"
	ErrCodeUnknownBackend   = "UNKNOWN_BACKEND"
)

// ErrEnvFileMissing returns an error for a missing .env file.
func ErrEnvFileMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeEnvFileMissing,
		Message: fmt.Sprintf("Configuration file not found: %s", path),
		Action:  "Copy example.env to .env and adjust the DENOISER_* values",
	}
}

// ErrMissingConfig returns an error for missing required configuration.
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidValue returns an error for a value that cannot be parsed.
func ErrInvalidValue(varName, value, expected string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%s'", varName, value),
		Action:  fmt.Sprintf("Set %s to %s", varName, expected),
	}
}

// ErrOutOfRange returns an error for a parsable value outside its bounds.
func ErrOutOfRange(varName, value, bounds string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeOutOfRange,
		Message: fmt.Sprintf("%s '%s' is out of range", varName, value),
		Action:  fmt.Sprintf("%s must be %s", varName, bounds),
	}
}

// ErrManifestNotFound returns an error when the job manifest does not exist.
func ErrManifestNotFound(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeManifestNotFound,
		Message: fmt.Sprintf("Manifest not found: %s", path),
		Action:  "Set DENOISER_MANIFEST to the path of a YAML frame manifest",
	}
}

// ErrUnknownBackend returns an error for an engine backend that is not registered.
func ErrUnknownBackend(name string, available []string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownBackend,
		Message: fmt.Sprintf("Unknown engine backend '%s'", name),
		Action:  fmt.Sprintf("Set DENOISER_BACKEND to one of %v", available),
	}
}

// IsConfigError checks if an error wraps a ConfigError and returns it if so.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError.
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
