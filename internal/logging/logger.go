package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/maidsync/internal/config"
)

// Level orders log lines by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps the config spelling to a Level; unknown input is info.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger appends timestamped lines to .maidsync/logs/maidsync.log so the
// TUI can keep the terminal while diagnostics still land somewhere. Printf
// logs at info.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	file  *os.File
	min   Level
	clock func() time.Time
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, min Level) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.Dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "maidsync.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{out: f, file: f, min: min, clock: time.Now}, nil
}

// NewWriter logs to w, used by headless mode to log to stderr.
func NewWriter(w io.Writer, min Level) *Logger {
	return &Logger{out: w, min: min, clock: time.Now}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && l.out != nil && level >= l.min
}

// Printf writes a single timestamped info line.
func (l *Logger) Printf(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Debugf writes a debug line.
func (l *Logger) Debugf(format string, args ...any) {
	l.logf(LevelDebug, format, args...)
}

// Infof writes an info line.
func (l *Logger) Infof(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Warnf writes a warning line.
func (l *Logger) Warnf(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

// Errorf writes an error line.
func (l *Logger) Errorf(format string, args ...any) {
	l.logf(LevelError, format, args...)
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	timestamp := l.clock().Format(time.RFC3339)
	fmt.Fprintf(l.out, "[%s] %-5s %s\n", timestamp, level, line)
}
