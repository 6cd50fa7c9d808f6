// Package logging provides structured logging for gitstack using slog.
//
// Usage:
//
//	// Initialize logger for an invocation (typically at command start)
//	if err := logging.Init("rebase"); err != nil {
//	    // handle error
//	}
//	defer logging.Close()
//
//	// Add context values
//	ctx = logging.WithOperation(ctx, "rebase")
//	ctx = logging.WithDryRun(ctx, dryRun)
//
//	// Log with context - operation/dry-run extracted automatically
//	logging.Info(ctx, "hook invoked",
//	    slog.String("hook", hookName),
//	    slog.String("branch", branch),
//	)
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/paths"
	"github.com/stackforge/gitstack/cmd/gitstack/cli/validation"
	"github.com/stackforge/gitstack/redact"
)

// LogLevelEnvVar is the environment variable that controls log level.
const LogLevelEnvVar = "GITSTACK_LOG_LEVEL"

var (
	// logger is the package-level logger instance
	logger *slog.Logger

	// logFile holds the current log file handle for cleanup
	logFile *os.File

	// logBufWriter wraps logFile with buffered I/O for performance
	logBufWriter *bufio.Writer

	// currentOperation stores the operation name from Init() to include in all logs
	currentOperation string

	// mu protects logger, logFile, logBufWriter, and currentOperation
	mu sync.RWMutex
)

// redactingWriter scrubs credentials out of each write before it reaches the
// underlying writer, so a pushed remote URL or a hook's echoed token never
// lands in a log file verbatim.
type redactingWriter struct {
	w io.Writer
}

func (r redactingWriter) Write(p []byte) (int, error) {
	scrubbed := redact.Bytes(p)
	if _, err := r.w.Write(scrubbed); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Init initializes the logger for one invocation, writing JSON logs to
// <git-common-dir>/gitstack/logs/<operation>-<timestamp>.log.
//
// If the log file cannot be created, falls back to stderr.
// Log level is controlled by the GITSTACK_LOG_LEVEL environment variable.
func Init(operation string) error {
	if err := validation.ValidateOperation(operation); err != nil {
		return fmt.Errorf("invalid operation name for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	levelStr := os.Getenv(LogLevelEnvVar)
	level := parseLogLevel(levelStr)

	if levelStr != "" && !isValidLogLevel(levelStr) {
		fmt.Fprintf(os.Stderr, "[gitstack] Warning: invalid log level %q, defaulting to INFO\n", levelStr)
	}

	logsPath, err := paths.LogsDir()
	if err != nil {
		logger = createLogger(redactingWriter{os.Stderr}, level)
		return nil
	}

	logFileName := fmt.Sprintf("%s-%s.log", operation, time.Now().UTC().Format("20060102T150405Z"))
	logFilePath := filepath.Join(logsPath, logFileName)
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // operation name validated above
	if err != nil {
		logger = createLogger(redactingWriter{os.Stderr}, level)
		return nil
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192) // 8KB buffer for batched writes
	logger = createLogger(redactingWriter{logBufWriter}, level)
	currentOperation = operation

	return nil
}

// Close closes the log file if one is open.
// Flushes any buffered data before closing.
// Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	currentOperation = ""
}

// resetLogger resets the logger to nil (for testing).
func resetLogger() {
	mu.Lock()
	defer mu.Unlock()
	logger = nil
	currentOperation = ""
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// getLogger returns the current logger, or a default stderr logger if not initialized.
func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if logger == nil {
		return slog.Default()
	}
	return logger
}

// getOperation returns the current operation name (thread-safe).
func getOperation() string {
	mu.RLock()
	defer mu.RUnlock()
	return currentOperation
}

// createLogger creates a JSON logger writing to the given writer at the specified level.
func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

// parseLogLevel parses a log level string to slog.Level.
// Returns slog.LevelInfo for empty or invalid values.
func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isValidLogLevel checks if the given string is a valid log level.
func isValidLogLevel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "":
		return true
	default:
		return false
	}
}

// Debug logs at DEBUG level with context values automatically extracted.
func Debug(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at INFO level with context values automatically extracted.
func Info(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at WARN level with context values automatically extracted.
func Warn(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at ERROR level with context values automatically extracted.
func Error(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs a message with duration_ms calculated from the start time.
// The level parameter specifies the log level (use slog.LevelDebug, slog.LevelInfo, etc).
// Designed for use with defer:
//
//	defer logging.LogDuration(ctx, slog.LevelInfo, "operation completed", time.Now())
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	durationMs := time.Since(start).Milliseconds()

	allAttrs := make([]any, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.Int64("duration_ms", durationMs))
	allAttrs = append(allAttrs, attrs...)

	log(ctx, level, msg, allAttrs...)
}

// log is the internal logging function that extracts context values and logs.
func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	var allAttrs []any

	globalOperation := getOperation()
	if globalOperation != "" {
		allAttrs = append(allAttrs, slog.String("operation", globalOperation))
	}

	contextAttrs := attrsFromContext(ctx, globalOperation)
	for _, a := range contextAttrs {
		allAttrs = append(allAttrs, a)
	}

	allAttrs = append(allAttrs, attrs...)

	// Pass nil context to slog as we've already extracted context values as attributes.
	// slog handlers are expected to handle nil context gracefully.
	l.Log(nil, level, msg, allAttrs...) //nolint:staticcheck // nil context is intentional - we extract values as attributes
}

// attrsFromContext extracts logging attributes from a context.
// If globalOperation is non-empty, skips adding operation from context to avoid duplicates.
func attrsFromContext(ctx context.Context, globalOperation string) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr

	if globalOperation == "" {
		if op := OperationFromContext(ctx); op != "" {
			attrs = append(attrs, slog.String("operation", op))
		}
	}
	if DryRunFromContext(ctx) {
		attrs = append(attrs, slog.Bool("dry_run", true))
	}
	if c := ComponentFromContext(ctx); c != "" {
		attrs = append(attrs, slog.String("component", c))
	}

	return attrs
}
