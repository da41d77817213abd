package kerberos

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/nfscallback/internal/logger"
)

// keytabPollInterval is the fallback poll period used alongside (or, when
// the watcher cannot be created, instead of) filesystem notifications.
const keytabPollInterval = 60 * time.Second

// reloader is the part of Provider the manager drives.
type reloader interface {
	ReloadKeytab() error
}

// KeytabManager reloads the keytab when it changes on disk.
//
// It watches the keytab's directory rather than the file, because key
// management tools (kadmin, k5srvutil) replace keytabs by rename, which
// drops a watch on the old inode. A modification-time poll backs the
// watcher up on filesystems without notifications.
//
// Thread Safety: All methods are safe for concurrent use.
type KeytabManager struct {
	path         string
	provider     reloader
	pollInterval time.Duration

	mu       sync.Mutex
	lastMod  time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewKeytabManager creates a keytab manager (not yet started).
func NewKeytabManager(path string, provider reloader) *KeytabManager {
	return &KeytabManager{
		path:         path,
		provider:     provider,
		pollInterval: keytabPollInterval,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start records the keytab's modification time and begins watching it.
func (km *KeytabManager) Start() error {
	info, err := os.Stat(km.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}
	km.mu.Lock()
	km.lastMod = info.ModTime()
	km.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(filepath.Dir(km.path)); werr != nil {
			_ = watcher.Close()
			watcher, err = nil, werr
		}
	}
	if err != nil {
		logger.Warn("Keytab watcher unavailable, polling only",
			logger.KeyPath, km.path, logger.KeyError, err)
	}

	go km.loop(watcher)

	logger.Info("Keytab hot-reload started",
		logger.KeyPath, km.path,
		"poll_interval", km.pollInterval.String(),
		"notify", watcher != nil,
	)
	return nil
}

// Stop ends watching. Safe to call multiple times or on a manager that was
// never started.
func (km *KeytabManager) Stop() {
	km.stopOnce.Do(func() { close(km.stopCh) })
}

func (km *KeytabManager) loop(watcher *fsnotify.Watcher) {
	defer close(km.done)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(km.pollInterval)
	defer ticker.Stop()

	target := filepath.Clean(km.path)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				km.checkAndReload()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("Keytab watcher error", logger.KeyPath, km.path, logger.KeyError, err)
		case <-ticker.C:
			km.checkAndReload()
		case <-km.stopCh:
			return
		}
	}
}

// checkAndReload reloads the keytab if its modification time moved.
func (km *KeytabManager) checkAndReload() {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		// Mid-rename; the Create event or the next poll will catch up.
		logger.Debug("Keytab stat failed", logger.KeyPath, km.path, logger.KeyError, err)
		return
	}
	if info.ModTime().Equal(km.lastMod) {
		return
	}

	if err := km.provider.ReloadKeytab(); err != nil {
		logger.Error("Keytab reload failed", logger.KeyPath, km.path, logger.KeyError, err)
		return
	}
	km.lastMod = info.ModTime()
	logger.Info("Keytab reloaded", logger.KeyPath, km.path)
}
