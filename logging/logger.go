// Package logging builds the structured logger used across the denoiser.
//
// Entries are written twice: to the console (human-readable in development,
// JSON otherwise) and to a rotating JSON log file.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures NewLogger.
type Options struct {
	// Development enables colored console output and debug level.
	Development bool

	// FilePath is the rotating JSON log file. Empty disables file output.
	FilePath string

	// Level overrides the minimum level. Nil uses debug in development
	// and info otherwise.
	Level *zapcore.Level

	// File configures rotation. Zero fields take the defaults.
	File FileWriterConfig
}

// Logger wraps a zap.Logger together with the file writer it owns.
//
// Example:
//
//	logger, err := logging.NewLogger(logging.Options{FilePath: "denoiser.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.Info("run started", zap.String("manifest", path))
type Logger struct {
	*zap.Logger

	level       zap.AtomicLevel
	file        *FileWriter
	development bool
}

// NewLogger creates a Logger writing to stdout and, if opts.FilePath is set,
// to a rotating log file.
func NewLogger(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}
	atomic := zap.NewAtomicLevelAt(level)

	var file *FileWriter
	if opts.FilePath != "" {
		var err error
		if file, err = NewFileWriter(opts.FilePath, opts.File); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}

	var fileSink zapcore.WriteSyncer
	if file != nil {
		fileSink = file
	}
	core := NewMultiCore(atomic, zapcore.Lock(os.Stdout), fileSink, opts.Development)

	return &Logger{
		Logger:      zap.New(core, zap.AddCaller()),
		level:       atomic,
		file:        file,
		development: opts.Development,
	}, nil
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// IsDevelopment reports whether console output is human-readable.
func (l *Logger) IsDevelopment() bool {
	return l.development
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	// Syncing stdout fails with EINVAL on some platforms; only the file
	// sync matters here.
	_ = l.Logger.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
