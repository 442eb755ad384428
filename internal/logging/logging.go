// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"botdesk/internal/config"
)

// NewLogger creates a logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithTrade adds trade identity fields to the logger context.
func WithTrade(logger zerolog.Logger, tradeID, symbol string) zerolog.Logger {
	return logger.With().Str("trade_id", tradeID).Str("symbol", symbol).Logger()
}

// LogTransition logs a trade state transition.
func LogTransition(logger zerolog.Logger, tradeID, symbol, from, to, reason string) {
	logger.Info().
		Str("event", "transition").
		Str("trade_id", tradeID).
		Str("symbol", symbol).
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Msg("Trade transition")
}

// LogInvariantViolation records a rejected mutation to the audit channel.
// The mutation is skipped; persisted state is never touched.
func LogInvariantViolation(logger zerolog.Logger, tradeID, symbol string, err error) {
	logger.Error().
		Str("event", "audit").
		Str("kind", "invariant_violation").
		Str("trade_id", tradeID).
		Str("symbol", symbol).
		Err(err).
		Msg("Timestamp invariant violated, transition aborted")
}

// LogEvaluatorMisuse records a spread evaluator reporting a price-level
// exit reason, which spread trades must never act on.
func LogEvaluatorMisuse(logger zerolog.Logger, tradeID, symbol, reason string) {
	logger.Error().
		Str("event", "audit").
		Str("kind", "evaluator_misuse").
		Str("trade_id", tradeID).
		Str("symbol", symbol).
		Str("reason", reason).
		Msg("Spread evaluator reported a price-level exit reason, ignoring")
}
