package policy

import (
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/pathtree"
)

// Snapshot is one immutable, fully built instance of the compiled rule
// set. Snapshots are constructed by Store.Rebuild, installed atomically,
// and never mutated afterward; whoever holds a reference keeps it valid
// regardless of later installs.
type Snapshot struct {
	// ID distinguishes snapshot generations in logs.
	ID string

	// Version is the policy version string, taken verbatim from
	// configuration and opaque to this package.
	Version string

	// LoadedAt is when the snapshot was built.
	LoadedAt time.Time

	dataTree  *pathtree.Tree[*DataPolicy]
	dataPaths map[PathAndType]struct{}

	processPolicies []*ProcessPolicy

	eventDetailURL  string
	eventDetailText string
}

// emptySnapshot is what a Store serves before its first successful
// rebuild: no rules, everything permitted.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		ID:        uuid.NewString(),
		LoadedAt:  time.Now(),
		dataTree:  pathtree.New[*DataPolicy](),
		dataPaths: map[PathAndType]struct{}{},
	}
}

// newSnapshot indexes the compiled rule sets. When two data policies
// claim the same path and type, the later one wins; configuration
// validation has already rejected duplicate item names.
func newSnapshot(cfg *Config, dataPolicies []*DataPolicy, processPolicies []*ProcessPolicy) *Snapshot {
	s := &Snapshot{
		ID:              uuid.NewString(),
		Version:         cfg.Version,
		LoadedAt:        time.Now(),
		dataTree:        pathtree.New[*DataPolicy](),
		dataPaths:       make(map[PathAndType]struct{}, len(dataPolicies)),
		processPolicies: processPolicies,
		eventDetailURL:  cfg.EventDetailURL,
		eventDetailText: cfg.EventDetailText,
	}
	for _, dp := range dataPolicies {
		if dp.PathType == PathTypePrefix {
			s.dataTree.InsertPrefix(dp.Path, dp)
		} else {
			s.dataTree.InsertLiteral(dp.Path, dp)
		}
		s.dataPaths[PathAndType{Path: dp.Path, Type: dp.PathType}] = struct{}{}
	}
	return s
}

// DataPolicyFor resolves a target path to the most specific data policy
// watching it, if any.
func (s *Snapshot) DataPolicyFor(path string) (*DataPolicy, bool) {
	return s.dataTree.Lookup(path)
}

// IterateProcessPolicies calls visit for each process-directed rule until
// visit returns true (stop) or the set is exhausted.
func (s *Snapshot) IterateProcessPolicies(visit func(*ProcessPolicy) bool) {
	for _, p := range s.processPolicies {
		if visit(p) {
			return
		}
	}
}

// RuleCount returns the number of compiled rules in the snapshot.
func (s *Snapshot) RuleCount() int {
	return s.dataTree.Len() + len(s.processPolicies)
}

// WatchedPaths returns the set of data-rule path/type pairs, the unit of
// the reload delta reported to path subscription listeners.
func (s *Snapshot) WatchedPaths() map[PathAndType]struct{} {
	return s.dataPaths
}

// EventDetailLink resolves the notification detail link for a rule:
// rule-level values override the configuration-wide defaults, and an
// explicitly empty rule-level URL hides the link entirely.
func (s *Snapshot) EventDetailLink(b *Base) (url, text string) {
	url = s.eventDetailURL
	if b.EventDetailURL != nil {
		url = *b.EventDetailURL
	}
	text = s.eventDetailText
	if b.EventDetailText != "" {
		text = b.EventDetailText
	}
	return url, text
}

// pathDelta computes the watched-path difference between two snapshots as
// (added, removed) relative to old.
func pathDelta(oldPaths, newPaths map[PathAndType]struct{}) (added, removed []PathAndType) {
	for pt := range newPaths {
		if _, ok := oldPaths[pt]; !ok {
			added = append(added, pt)
		}
	}
	for pt := range oldPaths {
		if _, ok := newPaths[pt]; !ok {
			removed = append(removed, pt)
		}
	}
	return added, removed
}
