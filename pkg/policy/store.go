package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReloadListener consumes the watched-path delta after each successful
// snapshot install, so the event source can adjust its subscriptions.
// Listeners run outside the store's lock and may call back into it.
type ReloadListener func(added, removed []PathAndType, total int)

// State is a point-in-time view of the store for health introspection.
type State struct {
	RuleCount     int
	PolicyVersion string
	ConfigSource  string
	LastReload    time.Time
}

// TargetPolicy pairs one looked-up target path with the data policy
// watching it, if any.
type TargetPolicy struct {
	Path   string
	Policy *DataPolicy
}

// Store owns the current snapshot behind a reader/writer lock. Readers
// never block each other; a writer blocks only for the duration of the
// reference swap, never during a rebuild.
type Store struct {
	logger *slog.Logger

	mu        sync.RWMutex
	snap      *Snapshot
	source    string
	listeners []ReloadListener
}

// NewStore returns a store serving an empty snapshot: no rules installed,
// every lookup misses.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		snap:   emptySnapshot(),
	}
}

// Rebuild compiles cfg into a fresh snapshot without touching the
// installed one. A ConfigError rejects the configuration wholesale; the
// caller decides whether to Install the result.
func (s *Store) Rebuild(cfg *Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rebuild: %w", ErrMissingField)
	}
	dataPolicies, processPolicies, err := cfg.Compile()
	if err != nil {
		return nil, err
	}
	return newSnapshot(cfg, dataPolicies, processPolicies), nil
}

// Install makes snap the live snapshot. The watched-path delta against
// the outgoing snapshot is computed under the write lock; listeners are
// invoked after the lock is released so they may safely re-enter the
// store.
func (s *Store) Install(snap *Snapshot, source string) {
	s.mu.Lock()
	old := s.snap
	s.snap = snap
	s.source = source
	listeners := make([]ReloadListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	added, removed := pathDelta(old.WatchedPaths(), snap.WatchedPaths())

	s.logger.Info("policy snapshot installed",
		"snapshot_id", snap.ID,
		"policy_version", snap.Version,
		"rule_count", snap.RuleCount(),
		"paths_added", len(added),
		"paths_removed", len(removed),
	)

	for _, fn := range listeners {
		fn(added, removed, len(snap.WatchedPaths()))
	}
}

// RegisterReloadListener adds fn to the set of listeners notified after
// every install.
func (s *Store) RegisterReloadListener(fn ReloadListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the live snapshot. The returned value stays valid and
// immutable however long the caller holds it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// FindPoliciesForTargets resolves each target path through the live
// snapshot's path index. All lookups observe the same snapshot.
func (s *Store) FindPoliciesForTargets(paths []string) []TargetPolicy {
	snap := s.Snapshot()
	out := make([]TargetPolicy, 0, len(paths))
	for _, p := range paths {
		tp := TargetPolicy{Path: p}
		if dp, ok := snap.DataPolicyFor(p); ok {
			tp.Policy = dp
		}
		out = append(out, tp)
	}
	return out
}

// IterateProcessPolicies visits each process-directed rule in the live
// snapshot until visit returns true.
func (s *Store) IterateProcessPolicies(visit func(*ProcessPolicy) bool) {
	s.Snapshot().IterateProcessPolicies(visit)
}

// State reports the live rule count, policy version, configuration source
// and last successful reload time.
func (s *Store) State() State {
	s.mu.RLock()
	snap, source := s.snap, s.source
	s.mu.RUnlock()
	return State{
		RuleCount:     snap.RuleCount(),
		PolicyVersion: snap.Version,
		ConfigSource:  source,
		LastReload:    snap.LoadedAt,
	}
}
