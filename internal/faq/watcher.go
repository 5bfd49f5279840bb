package faq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize faq watcher")

// Watcher reports changes to tenants' faq.json files.
//
// fsnotify is not recursive, so each tenant directory is added on first load.
type Watcher struct {
	files    *Files
	onChange func(tenantID string)
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu      sync.Mutex
	watched map[string]bool
	stop    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher that calls onChange with the tenant id when
// its source is written, created, renamed or removed.
func NewWatcher(files *Files, onChange func(tenantID string), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		files:    files,
		onChange: onChange,
		watcher:  fw,
		logger:   logger,
		watched:  make(map[string]bool),
		stop:     make(chan struct{}),
	}, nil
}

// Start processes events in a background goroutine until Stop or ctx ends.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
}

// Watch adds the tenant's directory. Repeated calls are no-ops.
func (w *Watcher) Watch(tenantID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[tenantID] {
		return nil
	}

	dir := w.files.TenantDir(tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.watched[tenantID] = true
	return nil
}

// Stop releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

const sourceOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&sourceOps == 0 || filepath.Base(event.Name) != sourceFile {
				continue
			}
			tenantID := filepath.Base(filepath.Dir(event.Name))
			w.logger.Debug("faq source changed",
				zap.String("tenant.id", tenantID),
				zap.String("op", event.Op.String()))
			w.onChange(tenantID)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("faq watcher error", zap.Error(err))
		}
	}
}
