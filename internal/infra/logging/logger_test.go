package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(content)), "\n")
}

func TestLogger_TaskEntryGoesToBothLogs(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo, testutil.NewMockClock())
	defer func() { _ = logger.Close() }()

	logger.Info("fix-login", "state", "CLASSIFIED -> PLANNING")

	want := "[2026-03-01 09:00:00] [INFO] [fix-login] [state] CLASSIFIED -> PLANNING"
	assert.Equal(t, []string{want}, readLines(t, domain.GlobalLogPath(dataDir)))
	assert.Equal(t, []string{want}, readLines(t, domain.TaskLogPath(dataDir, "fix-login")))
}

func TestLogger_GlobalLogOnly(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo, testutil.NewMockClock())
	defer func() { _ = logger.Close() }()

	logger.Warn("", "recovery", "no session")

	lines := readLines(t, domain.GlobalLogPath(dataDir))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[WARN] [global] [recovery] no session")

	entries, err := os.ReadDir(dataDir + "/logs")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no task log is created for global entries")
}

func TestLogger_LevelFiltering(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelWarn, nil)
	defer func() { _ = logger.Close() }()

	logger.Debug("t1", "round", "debug message")
	logger.Info("t1", "round", "info message")
	logger.Warn("t1", "round", "warn message")
	logger.Error("t1", "round", "error message")

	content := strings.Join(readLines(t, domain.GlobalLogPath(dataDir)), "\n")
	assert.NotContains(t, content, "debug message")
	assert.NotContains(t, content, "info message")
	assert.Contains(t, content, "warn message")
	assert.Contains(t, content, "error message")
}

func TestLogger_DisabledWhenEmptyDataDir(t *testing.T) {
	logger := New("", slog.LevelDebug, nil)
	defer func() { _ = logger.Close() }()

	logger.Info("t1", "state", "ignored")

	lines, err := logger.Tail("t1", 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo, nil)
	defer func() { _ = logger.Close() }()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info(fmt.Sprintf("t%d", i%3), "round", fmt.Sprintf("entry %d", i))
		}()
	}
	wg.Wait()

	assert.Len(t, readLines(t, domain.GlobalLogPath(dataDir)), 20)
}

func TestLogger_Tail(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo, testutil.NewMockClock())
	defer func() { _ = logger.Close() }()

	for i := 1; i <= 5; i++ {
		logger.Info("t1", "state", fmt.Sprintf("step %d", i))
	}
	logger.Info("t2", "state", "other task")

	lines, err := logger.Tail("t1", 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "step 4"))
	assert.True(t, strings.HasSuffix(lines[1], "step 5"))

	lines, err = logger.Tail("missing", 2)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
