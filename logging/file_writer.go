package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// FileWriterConfig controls log file rotation. Zero values take the
// defaults; Compress must be set explicitly.
type FileWriterConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	LocalTime  bool
}

// DefaultFileWriterConfig returns the default rotation settings with
// compression enabled.
func DefaultFileWriterConfig() FileWriterConfig {
	return FileWriterConfig{
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
		Compress:   true,
	}
}

// FileWriter is a rotating log file usable as a zapcore.WriteSyncer.
type FileWriter struct {
	lj *lumberjack.Logger
}

// NewFileWriter opens path for appending, creating parent directories.
// The file is opened eagerly so permission problems surface at startup
// rather than on the first entry.
func NewFileWriter(path string, cfg FileWriterConfig) (*FileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = DefaultMaxAgeDays
	}

	return &FileWriter{lj: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}}, nil
}

// Write implements io.Writer.
func (w *FileWriter) Write(p []byte) (int, error) {
	return w.lj.Write(p)
}

// Sync implements zapcore.WriteSyncer. lumberjack writes through to the
// file, so there is nothing to flush.
func (w *FileWriter) Sync() error {
	return nil
}

// Rotate closes the current file and starts a new one.
func (w *FileWriter) Rotate() error {
	if err := w.lj.Rotate(); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return nil
}

// Close closes the current file.
func (w *FileWriter) Close() error {
	return w.lj.Close()
}

// Path returns the active log file path.
func (w *FileWriter) Path() string {
	return w.lj.Filename
}
