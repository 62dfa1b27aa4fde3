package envstubs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for the directory to go
// quiet before reporting.
const DefaultDebounce = 200 * time.Millisecond

// ChangeHandler receives the identifiers that changed during one debounce
// window, sorted.
type ChangeHandler func(ids []string)

// Watcher reports edits to the overlay directory in debounced batches.
// Only valid module identifiers and the patch manifest are reported.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration
	logger   *zap.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher watches the catalogue's overlay directory. It creates the
// category directories so that files added later are seen.
func (c *Catalogue) NewWatcher(handler ChangeHandler, debounce time.Duration) (*Watcher, error) {
	if c.dir == "" {
		return nil, ErrReadOnly
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, category := range categories {
		dir := filepath.Join(c.dir, category)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fw.Close()
			return nil, err
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return &Watcher{
		dir:      c.dir,
		watcher:  fw,
		handler:  handler,
		debounce: debounce,
		logger:   c.logger,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watcher until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

// Stop ends watching and waits for the goroutines to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			id, ok := w.identify(event.Name)
			if !ok {
				continue
			}
			select {
			case w.changes <- id:
			default:
				w.logger.Warn("Environment change buffer full, dropping event", zap.String("id", id))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Environment watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) identify(name string) (string, bool) {
	rel, err := filepath.Rel(w.dir, name)
	if err != nil {
		return "", false
	}
	id := filepath.ToSlash(rel)
	if id == CategoryPatches+"/"+ManifestName {
		return id, true
	}
	return id, ValidateID(id) == nil
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.done:
			timer.Stop()
			return
		case id := <-w.changes:
			pending[id] = struct{}{}
			timer.Reset(w.debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			pending = make(map[string]struct{})
			if w.handler != nil {
				w.handler(ids)
			}
		}
	}
}
