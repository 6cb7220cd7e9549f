package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MinReloadInterval is the floor for the periodic reapply interval,
// preventing a misconfigured timer from thrashing the snapshot.
const MinReloadInterval = 15 * time.Second

// embeddedSource is the reported config source when the rule set is
// injected in memory rather than read from disk.
const embeddedSource = "(embedded)"

// ReloaderConfig configures a Reloader. Exactly one of ConfigPath or
// Embedded must be set.
type ReloaderConfig struct {
	// ConfigPath is the rule configuration file to read on each cycle.
	ConfigPath string

	// Embedded is an in-memory configuration, reapplied on each cycle.
	// Used by tests and by callers that manage config delivery
	// themselves.
	Embedded *Config

	// Interval between periodic reapplies. Values below MinReloadInterval
	// are raised to it; zero selects the minimum.
	Interval time.Duration

	// WatchFile additionally reloads when the config file changes on
	// disk, without waiting for the next periodic tick. Ignored for
	// embedded configs.
	WatchFile bool

	Logger *slog.Logger
}

// Reloader periodically re-reads the raw configuration, rebuilds the rule
// snapshot, and installs it. A failed rebuild is logged and reported but
// never alters the live snapshot; enforcement continues exactly as before
// the failed reload.
type Reloader struct {
	store  *Store
	cfg    ReloaderConfig
	logger *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewReloader validates cfg and pairs it with store. Start must be called
// before any periodic reloading happens; Reload works immediately.
func NewReloader(store *Store, cfg ReloaderConfig) (*Reloader, error) {
	if (cfg.ConfigPath == "") == (cfg.Embedded == nil) {
		return nil, fmt.Errorf("reloader: exactly one of ConfigPath or Embedded must be set")
	}
	if cfg.Interval < MinReloadInterval {
		cfg.Interval = MinReloadInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Start performs an initial synchronous reload, then begins the periodic
// task and, if configured, the file watch. The initial reload's error is
// returned so a daemon can refuse to start on a broken config; the
// periodic task runs regardless.
func (r *Reloader) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("reloader: already started")
	}
	r.started = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.mu.Unlock()

	var watchEvents chan fsnotify.Event
	if r.cfg.WatchFile && r.cfg.ConfigPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			r.logger.Warn("config file watch unavailable, relying on periodic reload", "error", err)
		} else if err := w.Add(r.cfg.ConfigPath); err != nil {
			r.logger.Warn("config file watch failed, relying on periodic reload",
				"path", r.cfg.ConfigPath, "error", err)
			w.Close()
		} else {
			r.watcher = w
			watchEvents = make(chan fsnotify.Event, 1)
			go func() {
				for ev := range w.Events {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
						select {
						case watchEvents <- ev:
						default:
						}
					}
				}
			}()
		}
	}

	err := r.Reload()

	go r.run(watchEvents)
	return err
}

func (r *Reloader) run(watchEvents chan fsnotify.Event) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reload(); err != nil {
				r.logger.Error("periodic policy reload failed", "error", err)
			}
		case ev := <-watchEvents:
			r.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			if err := r.Reload(); err != nil {
				r.logger.Error("on-change policy reload failed", "error", err)
			}
		case <-r.stop:
			return
		}
	}
}

// Reload reads the configuration, rebuilds the snapshot, and installs it.
// It is safe to call from any goroutine, including before Start or while
// the periodic task runs. In-flight lookups are unaffected either way:
// they observe the previous snapshot until the install completes.
func (r *Reloader) Reload() error {
	var (
		cfg    *Config
		source string
		err    error
	)
	if r.cfg.Embedded != nil {
		cfg, source = r.cfg.Embedded, embeddedSource
	} else {
		source = r.cfg.ConfigPath
		cfg, err = LoadConfigFile(r.cfg.ConfigPath)
		if err != nil {
			return fmt.Errorf("reload: %w", err)
		}
	}

	snap, err := r.store.Rebuild(cfg)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	r.store.Install(snap, source)
	return nil
}

// State reports the store's current introspection state.
func (r *Reloader) State() State {
	return r.store.State()
}

// Stop halts the periodic task and the file watch. In-flight lookups
// continue to observe the last successfully installed snapshot.
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	close(r.stop)
	<-r.done
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
}
