package pluginmodule

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// HotReloader restarts a plugin when its binary or manifest changes on disk
type HotReloader struct {
	registry      *Registry
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        hclog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	reloadMutex    sync.Mutex
	pendingReloads map[string]*time.Timer // plugin dir -> timer
}

// NewHotReloader creates a hot reloader for the registry's plugin directory
func NewHotReloader(registry *Registry, debounceDelay time.Duration, logger hclog.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounceDelay <= 0 {
		debounceDelay = 500 * time.Millisecond
	}

	return &HotReloader{
		registry:       registry,
		watcher:        watcher,
		debounceDelay:  debounceDelay,
		logger:         logger.Named("hot-reload"),
		pendingReloads: make(map[string]*time.Timer),
	}, nil
}

// Start watches every plugin directory found by discovery
func (h *HotReloader) Start(ctx context.Context) error {
	dirs, err := h.registry.manifestDirs()
	if err != nil {
		return err
	}

	watched := 0
	for _, dir := range dirs {
		if err := h.watcher.Add(dir); err != nil {
			h.logger.Error("failed to add watch for plugin directory", "path", dir, "error", err)
			continue
		}
		watched++
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.eventLoop(ctx)

	h.logger.Info("hot reload started", "watched_directories", watched)
	return nil
}

// Stop closes the watcher and cancels pending reloads
func (h *HotReloader) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.watcher.Close()

	h.reloadMutex.Lock()
	for dir, timer := range h.pendingReloads {
		timer.Stop()
		delete(h.pendingReloads, dir)
	}
	h.reloadMutex.Unlock()

	h.wg.Wait()
	h.logger.Info("hot reload stopped")
}

func (h *HotReloader) eventLoop(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.handleEvent(ctx, event)

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error("file watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func (h *HotReloader) handleEvent(ctx context.Context, event fsnotify.Event) {
	if ignoredFile(filepath.Base(event.Name)) {
		return
	}
	dir := filepath.Dir(event.Name)

	switch {
	case event.Has(fsnotify.Remove) && filepath.Base(event.Name) == ManifestFileName:
		h.registry.UnloadDir(dir)
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Chmod):
		h.scheduleReload(ctx, dir, event.Op.String())
	}
}

// scheduleReload debounces bursts of writes to one plugin directory
func (h *HotReloader) scheduleReload(ctx context.Context, dir, reason string) {
	h.reloadMutex.Lock()
	defer h.reloadMutex.Unlock()

	if timer, exists := h.pendingReloads[dir]; exists {
		timer.Stop()
	}

	h.pendingReloads[dir] = time.AfterFunc(h.debounceDelay, func() {
		h.reloadMutex.Lock()
		delete(h.pendingReloads, dir)
		h.reloadMutex.Unlock()

		if ctx.Err() != nil {
			return
		}
		h.logger.Info("reloading plugin", "dir", dir, "reason", reason)
		if err := h.registry.LoadDir(ctx, dir); err != nil {
			h.logger.Error("plugin reload failed", "dir", dir, "error", err)
		}
	})
}

func ignoredFile(name string) bool {
	for _, pattern := range []string{"*.tmp", "*.log", "*.pid", ".git*", "*.swp", "*.swo", "*.go", "go.mod", "go.sum"} {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return strings.HasPrefix(name, "~")
}
