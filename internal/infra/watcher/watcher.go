// Package watcher signals when agent status records change on disk.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// DefaultDebounce coalesces the bursts of events produced by one atomic write.
const DefaultDebounce = 50 * time.Millisecond

// Watcher turns filesystem events in a directory into wake signals.
// Fields are ordered to minimize memory padding.
type Watcher struct {
	fs       *fsnotify.Watcher
	logger   domain.Logger
	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	dir      string
	task     string
	once     sync.Once
	debounce time.Duration
}

// New watches dir, creating it if needed, and starts delivering signals.
// task only scopes log entries.
func New(dir, task string, logger domain.Logger) (*Watcher, error) {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create watch directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		fs:       fsw,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		dir:      filepath.Clean(dir),
		task:     task,
		debounce: DefaultDebounce,
	}
	go w.loop()
	return w, nil
}

// ForStatuses watches the status records of task inside the store at storeDir.
func ForStatuses(storeDir, task string, logger domain.Logger) (*Watcher, error) {
	return New(filepath.Join(storeDir, filepath.FromSlash(domain.StatusPrefix(task))), task, logger)
}

// Wake returns the channel signalled after changes settle.
// Signals do not queue: many changes before a receive yield one signal.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
	})
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	timer := time.NewTimer(0)
	<-timer.C
	pending := 0

	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending++
			timer.Reset(w.debounce)

		case <-timer.C:
			w.logger.Debug(w.task, "round", fmt.Sprintf("%d status changes in %s", pending, w.dir))
			pending = 0
			select {
			case w.wake <- struct{}{}:
			default:
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn(w.task, "round", "watch error: "+err.Error())
		}
	}
}
