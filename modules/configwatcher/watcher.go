// Package configwatcher watches configuration files and announces changes
// on the signal bus.
//
// The watcher runs on its own goroutine. When a watched file is written,
// created or replaced it waits for the debounce window to pass, reloads the
// file through the configured Loader and posts the result as a deferred
// config_reloaded emission, so subscribers see it on the control goroutine
// at the start of the next tick.
package configwatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/fsnotify/fsnotify"
)

const (
	ModuleName = "configwatcher"

	// SignalConfigReloaded is emitted after a successful reload.
	SignalConfigReloaded = "config_reloaded"

	// SignalConfigReloadFailed is emitted when the Loader rejects a change.
	SignalConfigReloadFailed = "config_reload_failed"

	defaultDebounce = 250 * time.Millisecond
)

var (
	ErrNoPaths     = errors.New("no paths to watch")
	ErrNotWatching = errors.New("config watcher is not running")
)

// Loader reads the file at path and returns the args of the
// config_reloaded emission.
type Loader func(path string) (ctrlloop.Args, error)

// Config configures the watcher.
type Config struct {
	Paths    []string      `yaml:"paths" toml:"paths" desc:"Files to watch"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce" default:"250ms" desc:"Quiet period before reloading"`
}

// Module watches Config.Paths for changes.
type Module struct {
	config Config
	loader Loader

	mu       sync.Mutex
	host     ctrlloop.Host
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
	reloads  int
	failures int
}

// New creates a watcher. A nil loader reports only the changed path.
func New(config Config, loader Loader) *Module {
	if config.Debounce <= 0 {
		config.Debounce = defaultDebounce
	}
	if loader == nil {
		loader = func(path string) (ctrlloop.Args, error) {
			return ctrlloop.Args{"path": ctrlloop.String(path)}, nil
		}
	}
	return &Module{config: config, loader: loader}
}

func (m *Module) Name() string { return ModuleName }

// Init starts watching. Directories are watched rather than files so that
// editors replacing a file with a rename are still noticed.
func (m *Module) Init(_ context.Context, host ctrlloop.Host) error {
	if len(m.config.Paths) == 0 {
		return ErrNoPaths
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	targets := make(map[string]string, len(m.config.Paths))
	dirs := make(map[string]bool)
	for _, p := range m.config.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		targets[abs] = p
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.host = host
	m.watcher = watcher
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx, watcher, targets)
	host.Logger().Info("Watching configuration", "paths", m.config.Paths, "debounce", m.config.Debounce)
	return nil
}

func (m *Module) run(ctx context.Context, watcher *fsnotify.Watcher, targets map[string]string) {
	defer close(m.done)

	pending := make(map[string]bool)
	timer := time.NewTimer(m.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			path, watched := targets[filepath.Clean(event.Name)]
			if !watched {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending[path] = true
			timer.Reset(m.config.Debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.host.Logger().Warn("Config watcher error", "error", err)
		case <-timer.C:
			for path := range pending {
				_ = m.reload(path)
			}
			clear(pending)
		}
	}
}

// Reload reloads path immediately and posts the outcome.
func (m *Module) Reload(path string) error {
	m.mu.Lock()
	running := m.host != nil
	m.mu.Unlock()
	if !running {
		return ErrNotWatching
	}
	return m.reload(path)
}

func (m *Module) reload(path string) error {
	args, err := m.loader(path)

	m.mu.Lock()
	host := m.host
	if err != nil {
		m.failures++
	} else {
		m.reloads++
	}
	m.mu.Unlock()

	if err != nil {
		host.Logger().Error("Config reload failed", "path", path, "error", err)
		_ = host.EmitDeferred(SignalConfigReloadFailed, ctrlloop.String(path), ctrlloop.Args{
			"path":  ctrlloop.String(path),
			"error": ctrlloop.String(err.Error()),
		})
		return err
	}

	host.Logger().Info("Config reloaded", "path", path)
	if err := host.EmitDeferred(SignalConfigReloaded, ctrlloop.String(path), args); err != nil {
		return fmt.Errorf("post %s: %w", SignalConfigReloaded, err)
	}
	return nil
}

// Shutdown stops the watcher goroutine and releases the OS watch handles.
func (m *Module) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel, watcher, done := m.cancel, m.watcher, m.done
	m.cancel, m.watcher = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	err := watcher.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("config watcher shutdown: %w", ctx.Err())
	}
	return err
}

// Stats returns the number of successful and failed reloads.
func (m *Module) Stats() (reloads, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads, m.failures
}
