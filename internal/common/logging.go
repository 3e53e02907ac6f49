// Package common provides shared utilities for orcapipe
package common

import (
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// Logger wraps arbor.ILogger to provide a consistent interface across
// the pipeline's packages.
type Logger struct {
	arbor.ILogger
}

// NewLogger creates a logger with the given level, a console writer
// (stderr) and a memory writer for diagnostics, following the same
// construction the rest of the pipeline's dependency injection relies
// on.
func NewLogger(level string) *Logger {
	arborLogger := arbor.NewLogger().
		WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			Writer:     os.Stderr,
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		}).
		WithMemoryWriter(models.WriterConfiguration{
			Type: models.LogWriterTypeMemory,
		}).
		WithLevelFromString(level)

	return &Logger{ILogger: arborLogger}
}

// NewLoggerFromConfig builds a Logger and attaches a size-rotating file
// writer at cfg.FilePath when one is configured. See DESIGN.md for why
// rotation itself is hand-rolled rather than pulled from a third-party
// package.
func NewLoggerFromConfig(cfg LoggingCfg) *Logger {
	logger := NewLogger(cfg.Level)
	if cfg.FilePath != "" {
		rw, err := newRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.FilePath).Msg("Failed to open rotating log file")
			return logger
		}
		arborLogger := arbor.NewLogger().
			WithConsoleWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeConsole,
				Writer:     os.Stderr,
				TimeFormat: "2006-01-02T15:04:05Z07:00",
			}).
			WithConsoleWriter(models.WriterConfiguration{
				Type:   models.LogWriterTypeConsole,
				Writer: rw,
			}).
			WithMemoryWriter(models.WriterConfiguration{
				Type: models.LogWriterTypeMemory,
			}).
			WithLevelFromString(cfg.Level)
		return &Logger{ILogger: arborLogger}
	}
	return logger
}

// NewDefaultLogger creates a logger with default settings.
func NewDefaultLogger() *Logger {
	return NewLogger("info")
}

// NewSilentLogger creates a logger that discards all output, for tests
// that exercise packages requiring a *Logger but assert nothing about
// its content.
func NewSilentLogger() *Logger {
	return &Logger{ILogger: arbor.NewLogger().WithLevelFromString("fatal")}
}
