package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// Level is a log severity
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
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names map to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled logging
type Logger struct {
	mu    sync.Mutex
	level Level
	quiet bool
	out   io.Writer
	err   io.Writer
}

// NewLogger creates a new logger writing to stdout and stderr
func NewLogger(level string, quiet bool) *Logger {
	return &Logger{level: ParseLevel(level), quiet: quiet, out: os.Stdout, err: os.Stderr}
}

// NewWriterLogger creates a logger writing everything to w
func NewWriterLogger(w io.Writer, level string) *Logger {
	return &Logger{level: ParseLevel(level), out: w, err: w}
}

// Discard returns a logger that prints nothing
func Discard() *Logger {
	return &Logger{level: LevelError + 1, out: io.Discard, err: io.Discard}
}

// SetLevel changes the minimum level
func (l *Logger) SetLevel(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLevel(name)
}

// Enabled reports whether messages at level would be printed
func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return false
	}
	return !l.quiet || level >= LevelError
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	w := l.out
	if level >= LevelError {
		w = l.err
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(w, line)
}

// PrintSummary prints the outcome of an import run
func (l *Logger) PrintSummary(s *status.Status) {
	failed := s.ErrorCount() > 0
	if l.quiet && !failed {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.out
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Summary ===")
	fmt.Fprintf(w, "State: %s\n", s.State())
	if s.DryRun() {
		fmt.Fprintln(w, "Mode: dry run")
	}
	for _, name := range s.SourceCounterNames() {
		fmt.Fprintf(w, "%s: %d\n", name, s.SourceCounter(name).Value())
	}
	for _, name := range s.TargetCounterNames() {
		c := s.TargetCounter(name)
		if name == status.BytesImported {
			fmt.Fprintf(w, "%s: %s\n", name, humanize.Bytes(uint64(c.Value())))
			continue
		}
		fmt.Fprintf(w, "%s: %d (%.1f/s)\n", name, c.Value(), c.Rate())
	}
	if failed {
		fmt.Fprintf(w, "Errors: %d\n", s.ErrorCount())
		for _, e := range s.Errors() {
			fmt.Fprintf(l.err, "ERROR: %s\n", e.Message())
		}
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Duration().Round(time.Millisecond))
}

// FormatBytes formats a byte count for humans
func FormatBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	return humanize.Bytes(uint64(n))
}
