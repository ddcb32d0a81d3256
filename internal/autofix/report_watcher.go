// internal/autofix/report_watcher.go
package autofix

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReportChangeCallback is called once per burst of writes to the report file.
type ReportChangeCallback func(path string)

// ReportWatcher watches a test report file, such as one written by a
// Playwright run in another terminal or CI step, and calls back when it
// settles.
type ReportWatcher struct {
	logger   *zap.Logger
	path     string
	callback ReportChangeCallback
	debounce time.Duration

	watcher *fsnotify.Watcher
	timer   *time.Timer
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewReportWatcher creates a watcher for path. The parent directory is watched
// so editors and reporters that replace the file by rename are seen.
func NewReportWatcher(logger *zap.Logger, path string, callback ReportChangeCallback) (*ReportWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid report path: %w", err)
	}
	return &ReportWatcher{
		logger:   logger.Named("autofix-report-watcher"),
		path:     abs,
		callback: callback,
		debounce: 500 * time.Millisecond,
	}, nil
}

// SetDebounce sets how long the file must stay quiet before the callback runs.
func (rw *ReportWatcher) SetDebounce(d time.Duration) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.debounce = d
}

// Start begins watching. It returns once the watch is registered.
func (rw *ReportWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(rw.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(rw.path), err)
	}
	rw.watcher = watcher

	ctx, rw.cancel = context.WithCancel(ctx)
	rw.wg.Add(1)
	go rw.loop(ctx)
	rw.logger.Info("Watching test report.", zap.String("path", rw.path))
	return nil
}

// Stop ends the watch and waits for the event loop to exit. A pending
// callback is cancelled.
func (rw *ReportWatcher) Stop() {
	if rw.cancel != nil {
		rw.cancel()
	}
	rw.wg.Wait()
}

func (rw *ReportWatcher) loop(ctx context.Context) {
	defer rw.wg.Done()
	defer func() {
		rw.mu.Lock()
		if rw.timer != nil {
			rw.timer.Stop()
		}
		rw.mu.Unlock()
		rw.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.handleEvent(event)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Warn("File watcher error.", zap.Error(err))
		}
	}
}

func (rw *ReportWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != rw.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, rw.fire)
}

func (rw *ReportWatcher) fire() {
	rw.logger.Debug("Test report changed.", zap.String("path", rw.path))
	if rw.callback != nil {
		rw.callback(rw.path)
	}
}
