// Warden daemon: loads the watch-item configuration, keeps the compiled
// rule snapshot fresh, and serves file-access decisions to platform
// interception shims over a local socket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenlabs/warden/internal/bridge"
	"github.com/wardenlabs/warden/internal/recorder"
	"github.com/wardenlabs/warden/internal/version"
	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/engine"
	"github.com/wardenlabs/warden/pkg/policy"
	"github.com/wardenlabs/warden/pkg/store"
)

var (
	configPath    = flag.String("config", "/etc/warden/rules.yaml", "watch item configuration file")
	socketPath    = flag.String("socket", "/var/run/warden.sock", "decision socket for interception shims")
	eventsDBPath  = flag.String("events-db", "", "access event database path (default: per-user data dir)")
	reloadSeconds = flag.Uint64("reload-interval", 60, "seconds between periodic config reapplies")
	watchConfig   = flag.Bool("watch-config", true, "reload immediately when the config file changes")
	enableSyslog  = flag.Bool("syslog", false, "also emit audit events to the local syslog daemon")
	logJSON       = flag.Bool("log-json", false, "log in JSON instead of text")
)

func main() {
	flag.Parse()

	var handler slog.Handler
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("wardend starting", "version", version.String(), "config", *configPath)

	backends := []audit.EventEmitter{audit.NewSlogEmitter(logger)}
	if *enableSyslog {
		sl, err := audit.NewSyslogEmitter(audit.SyslogConfig{})
		if err != nil {
			logger.Warn("syslog unavailable, continuing with log-only audit", "error", err)
		} else {
			defer sl.Close()
			backends = append(backends, sl)
		}
	}
	emitter := audit.NewFanoutEmitter(logger, backends...)

	dbPath := *eventsDBPath
	if dbPath == "" {
		dbPath = store.DefaultPath()
	}
	events, err := store.Open(dbPath)
	if err != nil {
		logger.Error("event database unavailable", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer events.Close()

	policyStore := policy.NewStore(logger)
	policyStore.RegisterReloadListener(func(added, removed []policy.PathAndType, total int) {
		// The path delta is what a platform shim uses to adjust its
		// event subscriptions; audit records the reload itself.
		st := policyStore.State()
		emitter.Emit(audit.NewConfigReload(st.PolicyVersion, st.ConfigSource, st.RuleCount))
	})

	reloader, err := policy.NewReloader(policyStore, policy.ReloaderConfig{
		ConfigPath: *configPath,
		Interval:   time.Duration(*reloadSeconds) * time.Second,
		WatchFile:  *watchConfig,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("invalid reloader configuration", "error", err)
		os.Exit(1)
	}
	if err := reloader.Start(); err != nil {
		emitter.Emit(audit.NewConfigError(*configPath, err.Error()))
		logger.Error("initial config load failed", "error", err)
		os.Exit(1)
	}
	defer reloader.Stop()

	eng := engine.New(engine.Config{
		Store:    policyStore,
		Recorder: recorder.New(emitter, events, logger),
		Logger:   logger,
	})

	srv, err := bridge.Listen(*socketPath, eng, logger)
	if err != nil {
		logger.Error("decision socket unavailable", "socket", *socketPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := reloader.Reload(); err != nil {
					emitter.Emit(audit.NewConfigError(*configPath, err.Error()))
					logger.Error("on-demand reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}()

	st := policyStore.State()
	logger.Info("wardend ready",
		"rule_count", st.RuleCount,
		"policy_version", st.PolicyVersion,
		"socket", *socketPath,
		"events_db", dbPath,
	)

	if err := srv.Serve(ctx); err != nil {
		logger.Error("decision socket failed", "error", err)
		os.Exit(1)
	}
}
