package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names read by LoadConfig.
const (
	EnvManifest        = "DENOISER_MANIFEST"
	EnvBackend         = "DENOISER_BACKEND"
	EnvOutputDir       = "DENOISER_OUTPUT_DIR"
	EnvGuideAlbedo     = "DENOISER_GUIDE_ALBEDO"
	EnvGuideNormals    = "DENOISER_GUIDE_NORMALS"
	EnvTemporal        = "DENOISER_GUIDE_TEMPORAL"
	EnvPoolSize        = "DENOISER_POOL_SIZE"
	EnvDeviceMemory    = "DENOISER_DEVICE_MEMORY"
	EnvStreamQueue     = "DENOISER_STREAM_QUEUE"
	EnvPreview         = "DENOISER_PREVIEW"
	EnvPreviewMaxEdge  = "DENOISER_PREVIEW_MAX_EDGE"
	EnvDBPath          = "DENOISER_DB_PATH"
	EnvLogFile         = "DENOISER_LOG_FILE"
	EnvLogLevel        = "DENOISER_LOG_LEVEL"
	EnvDevelopment     = "DENOISER_DEV"
	EnvShutdownTimeout = "DENOISER_SHUTDOWN_TIMEOUT"
	EnvRetentionDays   = "DENOISER_LEDGER_RETENTION_DAYS"
)

// Defaults applied when a variable is unset.
const (
	DefaultManifest        = "denoise.yaml"
	DefaultBackend         = "software"
	DefaultOutputDir       = "output"
	DefaultPoolSize        = 2
	DefaultDeviceMemory    = "2GB"
	DefaultStreamQueue     = 64
	DefaultDBPath          = "data/ledger.db"
	DefaultLogFile         = "denoiser.log"
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 30 * time.Second

	maxPoolSize = 64
)

// Config holds all configuration values.
type Config struct {
	// Job
	ManifestPath string
	Backend      string
	OutputDir    string

	// Guide overrides. Nil leaves the manifest's choice in place.
	GuideAlbedo  *bool
	GuideNormals *bool
	Temporal     *bool

	// Device and scheduling
	PoolSize     int
	DeviceMemory int64
	StreamQueue  int

	// Outputs
	Preview        bool
	PreviewMaxEdge int
	DBPath         string // empty disables the ledger
	RetentionDays  int    // zero keeps every run

	// Logging and lifecycle
	LogFile         string
	LogLevel        string
	Development     bool
	ShutdownTimeout time.Duration
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error unless required is true.
func LoadEnvFile(path string, required bool) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return ErrEnvFileMissing(path)
		}
		return nil
	}
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Cannot parse %s: %v", path, err),
		Action:  "Fix the syntax of the file (KEY=VALUE per line)",
	}
}

// LoadConfig reads the DENOISER_* environment variables. Unset variables
// take their defaults; malformed values return a *ConfigError.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ManifestPath:    GetEnvOrDefault(EnvManifest, DefaultManifest),
		Backend:         strings.ToLower(GetEnvOrDefault(EnvBackend, DefaultBackend)),
		OutputDir:       GetEnvOrDefault(EnvOutputDir, DefaultOutputDir),
		Preview:         ParseBoolEnv(EnvPreview, false),
		DBPath:          DefaultDBPath,
		LogFile:         GetEnvOrDefault(EnvLogFile, DefaultLogFile),
		LogLevel:        strings.ToLower(GetEnvOrDefault(EnvLogLevel, DefaultLogLevel)),
		Development:     ParseBoolEnv(EnvDevelopment, false),
		ShutdownTimeout: DefaultShutdownTimeout,
	}

	// An explicitly empty DB path disables the ledger.
	if value, ok := os.LookupEnv(EnvDBPath); ok {
		cfg.DBPath = strings.TrimSpace(value)
	}

	var err error
	if cfg.GuideAlbedo, err = optionalBoolEnv(EnvGuideAlbedo); err != nil {
		return nil, err
	}
	if cfg.GuideNormals, err = optionalBoolEnv(EnvGuideNormals); err != nil {
		return nil, err
	}
	if cfg.Temporal, err = optionalBoolEnv(EnvTemporal); err != nil {
		return nil, err
	}

	if cfg.PoolSize, err = intEnv(EnvPoolSize, DefaultPoolSize); err != nil {
		return nil, err
	}
	if cfg.PoolSize < 1 || cfg.PoolSize > maxPoolSize {
		return nil, ErrOutOfRange(EnvPoolSize, strconv.Itoa(cfg.PoolSize), fmt.Sprintf("between 1 and %d", maxPoolSize))
	}

	if cfg.StreamQueue, err = intEnv(EnvStreamQueue, DefaultStreamQueue); err != nil {
		return nil, err
	}
	if cfg.StreamQueue < 1 {
		return nil, ErrOutOfRange(EnvStreamQueue, strconv.Itoa(cfg.StreamQueue), "at least 1")
	}

	if cfg.PreviewMaxEdge, err = intEnv(EnvPreviewMaxEdge, 0); err != nil {
		return nil, err
	}
	if cfg.PreviewMaxEdge < 0 {
		return nil, ErrOutOfRange(EnvPreviewMaxEdge, strconv.Itoa(cfg.PreviewMaxEdge), "0 (no limit) or positive")
	}

	if cfg.RetentionDays, err = intEnv(EnvRetentionDays, 0); err != nil {
		return nil, err
	}
	if cfg.RetentionDays < 0 {
		return nil, ErrOutOfRange(EnvRetentionDays, strconv.Itoa(cfg.RetentionDays), "0 (keep all) or positive")
	}

	memory := GetEnvOrDefault(EnvDeviceMemory, DefaultDeviceMemory)
	if cfg.DeviceMemory, err = ParseBytes(memory); err != nil {
		return nil, ErrInvalidValue(EnvDeviceMemory, memory, "a size such as 512MB or 2GB")
	}
	if cfg.DeviceMemory <= 0 {
		return nil, ErrOutOfRange(EnvDeviceMemory, memory, "greater than zero")
	}

	if value := os.Getenv(EnvShutdownTimeout); value != "" {
		d, perr := parseTimeout(value)
		if perr != nil || d <= 0 {
			return nil, ErrInvalidValue(EnvShutdownTimeout, value, "a positive duration such as 30s or 30")
		}
		cfg.ShutdownTimeout = d
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return nil, ErrInvalidValue(EnvLogLevel, cfg.LogLevel, "one of debug, info, warn, error, fatal")
	}

	if cfg.ManifestPath == "" {
		return nil, ErrMissingConfig(EnvManifest)
	}
	return cfg, nil
}

// ResolveGuides applies the environment overrides to the manifest's guide
// flags.
func (c *Config) ResolveGuides(albedo, normals, temporal bool) (bool, bool, bool) {
	if c.GuideAlbedo != nil {
		albedo = *c.GuideAlbedo
	}
	if c.GuideNormals != nil {
		normals = *c.GuideNormals
	}
	if c.Temporal != nil {
		temporal = *c.Temporal
	}
	return albedo, normals, temporal
}

// LedgerEnabled reports whether a database path is configured.
func (c *Config) LedgerEnabled() bool {
	return c.DBPath != ""
}

func intEnv(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, ErrInvalidValue(key, value, "an integer")
	}
	return n, nil
}

func optionalBoolEnv(key string) (*bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}
	b, ok := parseBool(value)
	if !ok {
		return nil, ErrInvalidValue(key, value, "true or false")
	}
	return &b, nil
}

// parseTimeout accepts Go duration syntax or a bare number of seconds.
func parseTimeout(value string) (time.Duration, error) {
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(value)
}
