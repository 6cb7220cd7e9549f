// Package policy compiles a declarative watch-item configuration into the
// indexes the decision path queries: a path-prefix tree answering "which
// rule watches this target path" and a flat set of process-directed rules
// answering "does this instigating process match". The compiled form is
// an immutable snapshot, rebuilt wholesale on every configuration change
// and swapped in atomically so in-flight lookups are never torn.
package policy

import (
	"path/filepath"
	"strings"

	"github.com/wardenlabs/warden/pkg/pathtree"
)

// PathType selects how a watched path entry matches a target.
type PathType int

const (
	// PathTypeLiteral matches only the exact path.
	PathTypeLiteral PathType = iota

	// PathTypePrefix matches the path and everything nested under it.
	PathTypePrefix
)

func (t PathType) String() string {
	if t == PathTypePrefix {
		return "prefix"
	}
	return "literal"
}

// RuleDirection determines whether a rule is indexed by target path or by
// instigating process, and whether its opposite-side list is an
// allow-list or a deny-list.
type RuleDirection int

const (
	// PathsAllowProcesses: the rule watches paths; listed processes are
	// permitted access and everything else is denied.
	PathsAllowProcesses RuleDirection = iota

	// PathsDenyProcesses: the rule watches paths; listed processes are
	// denied access and everything else is permitted.
	PathsDenyProcesses

	// ProcessesAllowPaths: the rule watches processes; a matched process
	// may touch only the listed paths.
	ProcessesAllowPaths

	// ProcessesDenyPaths: the rule watches processes; a matched process
	// may touch anything except the listed paths.
	ProcessesDenyPaths
)

func (d RuleDirection) String() string {
	switch d {
	case PathsAllowProcesses:
		return "paths_with_allowed_processes"
	case PathsDenyProcesses:
		return "paths_with_denied_processes"
	case ProcessesAllowPaths:
		return "processes_with_allowed_paths"
	case ProcessesDenyPaths:
		return "processes_with_denied_paths"
	default:
		return "unknown"
	}
}

// PathIndexed reports whether the rule is looked up by target path
// (as opposed to by instigating process).
func (d RuleDirection) PathIndexed() bool {
	return d == PathsAllowProcesses || d == PathsDenyProcesses
}

// AllowList reports whether the rule's process or path list is an
// allow-list.
func (d RuleDirection) AllowList() bool {
	return d == PathsAllowProcesses || d == ProcessesAllowPaths
}

// ParseRuleDirection maps a configuration rule_type string to its
// direction.
func ParseRuleDirection(s string) (RuleDirection, error) {
	switch strings.ToLower(s) {
	case "paths_with_allowed_processes":
		return PathsAllowProcesses, nil
	case "paths_with_denied_processes":
		return PathsDenyProcesses, nil
	case "processes_with_allowed_paths":
		return ProcessesAllowPaths, nil
	case "processes_with_denied_paths":
		return ProcessesDenyPaths, nil
	default:
		return 0, ErrInvalidRuleType
	}
}

// PathAndType is one configured watch path with its match mode.
type PathAndType struct {
	Path string
	Type PathType
}

// Base holds the fields shared by both rule kinds. Equality over rules is
// defined by name plus structural fields; the display-only fields
// (CustomMessage, EventDetailURL, EventDetailText) do not participate.
type Base struct {
	Name            string
	Version         string
	AllowReadAccess bool
	AuditOnly       bool
	Direction       RuleDirection
	Silent          bool
	SilentTTY       bool

	CustomMessage string

	// EventDetailURL is nil when unset. An explicitly empty string is a
	// valid value: it overrides any global URL to hide the detail link.
	EventDetailURL  *string
	EventDetailText string

	Processes []ProcessPattern
}

// MatchesProcess reports whether id matches any pattern in the rule's
// process list. An empty list matches nothing.
func (b *Base) MatchesProcess(id ProcessIdentity) bool {
	for i := range b.Processes {
		if b.Processes[i].Matches(id) {
			return true
		}
	}
	return false
}

// RequiresCertificateHash reports whether any pattern in the rule's
// process list matches on a certificate hash.
func (b *Base) RequiresCertificateHash() bool {
	for i := range b.Processes {
		if b.Processes[i].RequiresCertificateHash() {
			return true
		}
	}
	return false
}

func (b *Base) structurallyEqual(o *Base) bool {
	if b.Name != o.Name || b.Version != o.Version ||
		b.AllowReadAccess != o.AllowReadAccess || b.AuditOnly != o.AuditOnly ||
		b.Direction != o.Direction || b.Silent != o.Silent || b.SilentTTY != o.SilentTTY ||
		len(b.Processes) != len(o.Processes) {
		return false
	}
	for i := range b.Processes {
		if b.Processes[i] != o.Processes[i] {
			return false
		}
	}
	return true
}

// DataPolicy is a path-indexed rule: it watches a single literal or
// prefix path and carries the process list to check instigators against.
type DataPolicy struct {
	Base
	Path     string
	PathType PathType
}

// Equal compares structural fields only.
func (p *DataPolicy) Equal(o *DataPolicy) bool {
	if o == nil {
		return false
	}
	return p.structurallyEqual(&o.Base) && p.Path == o.Path && p.PathType == o.PathType
}

// ProcessPolicy is a process-indexed rule: it matches instigating
// processes and carries its own path index, built once from the
// configured paths with any glob patterns expanded at build time.
type ProcessPolicy struct {
	Base
	Paths []PathAndType

	tree *pathtree.Tree[struct{}]
}

// NewProcessPolicy builds the rule's path index. Paths containing glob
// metacharacters are expanded against the filesystem now, so matching
// never globs on the hot path; a pattern with no matches contributes no
// entries.
func NewProcessPolicy(base Base, paths []PathAndType) *ProcessPolicy {
	p := &ProcessPolicy{
		Base:  base,
		Paths: paths,
		tree:  pathtree.New[struct{}](),
	}
	for _, pt := range paths {
		for _, expanded := range expandGlob(pt.Path) {
			if pt.Type == PathTypePrefix {
				p.tree.InsertPrefix(expanded, struct{}{})
			} else {
				p.tree.InsertLiteral(expanded, struct{}{})
			}
		}
	}
	return p
}

// MatchesTarget reports whether the rule's path index covers path.
func (p *ProcessPolicy) MatchesTarget(path string) bool {
	return p.tree.Contains(path)
}

// Equal compares structural fields only.
func (p *ProcessPolicy) Equal(o *ProcessPolicy) bool {
	if o == nil {
		return false
	}
	if !p.structurallyEqual(&o.Base) || len(p.Paths) != len(o.Paths) {
		return false
	}
	seen := make(map[PathAndType]struct{}, len(p.Paths))
	for _, pt := range p.Paths {
		seen[pt] = struct{}{}
	}
	for _, pt := range o.Paths {
		if _, ok := seen[pt]; !ok {
			return false
		}
	}
	return true
}

// expandGlob returns the concrete paths a configured path stands for. A
// path without glob metacharacters is returned as-is whether or not it
// exists; a glob pattern expands to whatever currently matches.
func expandGlob(path string) []string {
	if !strings.ContainsAny(path, "*?[") {
		return []string{path}
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		// filepath.ErrBadPattern: treat like a pattern with no matches.
		return nil
	}
	return matches
}
