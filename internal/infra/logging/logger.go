// Package logging provides file-based logging for git-taskflow.
// Every entry goes to the global log (.git/taskflow/logs/taskflow.log); entries
// scoped to a task also go to that task's log (.git/taskflow/logs/task-<name>.log).
package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Ensure Logger implements domain.Logger interface.
var _ domain.Logger = (*Logger)(nil)

// Logger writes formatted entries to the global and per-task log files.
// Fields are ordered to minimize memory padding.
type Logger struct {
	clock      domain.Clock
	globalFile *os.File
	taskFiles  map[string]*os.File
	dataDir    string
	mu         sync.Mutex
	level      slog.Level
}

// New creates a new Logger that writes below dataDir.
// If dataDir is empty, logging is disabled.
func New(dataDir string, level slog.Level, clock domain.Clock) *Logger {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Logger{
		clock:     clock,
		dataDir:   dataDir,
		level:     level,
		taskFiles: make(map[string]*os.File),
	}
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	//nolint:gosec // Log file readable by owner and group
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// files returns the files an entry for task goes to, opening them on first use.
// Must be called with l.mu held.
func (l *Logger) files(task string) []*os.File {
	var out []*os.File
	if l.globalFile == nil {
		if f, err := l.open(domain.GlobalLogPath(l.dataDir)); err == nil {
			l.globalFile = f
		}
	}
	if l.globalFile != nil {
		out = append(out, l.globalFile)
	}
	if task == "" {
		return out
	}
	f, ok := l.taskFiles[task]
	if !ok {
		var err error
		if f, err = l.open(domain.TaskLogPath(l.dataDir, task)); err != nil {
			return out
		}
		l.taskFiles[task] = f
	}
	return append(out, f)
}

// Close closes all open log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.globalFile != nil {
		errs = append(errs, l.globalFile.Close())
		l.globalFile = nil
	}
	for task, f := range l.taskFiles {
		errs = append(errs, f.Close())
		delete(l.taskFiles, task)
	}
	return errors.Join(errs...)
}

// formatLog formats an entry as:
// [2026-01-30 09:32:51] [INFO] [fix-login] [state] message
func formatLog(ts string, level slog.Level, task, category, msg string) string {
	scope := task
	if scope == "" {
		scope = "global"
	}
	return fmt.Sprintf("[%s] [%s] [%s] [%s] %s\n", ts, level.String(), scope, category, msg)
}

func (l *Logger) log(level slog.Level, task, category, msg string) {
	if l.dataDir == "" || level < l.level {
		return
	}
	entry := formatLog(l.clock.Now().Format("2006-01-02 15:04:05"), level, task, category, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files(task) {
		_, _ = io.WriteString(f, entry)
	}
}

// Info logs an info message.
func (l *Logger) Info(task, category, msg string) {
	l.log(slog.LevelInfo, task, category, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(task, category, msg string) {
	l.log(slog.LevelDebug, task, category, msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(task, category, msg string) {
	l.log(slog.LevelWarn, task, category, msg)
}

// Error logs an error message.
func (l *Logger) Error(task, category, msg string) {
	l.log(slog.LevelError, task, category, msg)
}

// Tail returns up to n of the most recent entries of the task's log.
// A task without a log yields no entries.
func (l *Logger) Tail(task string, n int) ([]string, error) {
	if l.dataDir == "" || n <= 0 {
		return nil, nil
	}
	f, err := os.Open(domain.TaskLogPath(l.dataDir, task))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open task log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read task log: %w", err)
	}
	return lines, nil
}
