// Package engine renders the allow/deny verdict for one intercepted
// filesystem access. It combines the policy store's two indexes (target
// path and instigating process) with the event's concrete identities,
// memoizing expensive certificate hash derivation through a bounded
// concurrent cache. All evaluation paths are short, non-blocking index
// reads; the single exception is a certificate hash cache miss.
package engine

import (
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/cache"
	"github.com/wardenlabs/warden/pkg/policy"
)

// badCertHash is cached for binaries whose certificate hash could not be
// derived, so repeated failures don't re-invoke the codesigning service.
// It can never equal a real hex digest.
const badCertHash = "BAD_CERT_HASH"

// certHashCacheSize bounds the certificate hash memoization cache.
const certHashCacheSize = 2048

// CertificateHasher derives the leaf certificate hash for a binary. The
// first call per file may block on the codesigning service; results are
// memoized by the engine.
type CertificateHasher interface {
	DeriveCertificateHash(file policy.FileID) (string, error)
}

// Event is one intercepted filesystem access, as delivered by the event
// source.
type Event struct {
	// TargetPath is the filesystem path being accessed.
	TargetPath string

	// WriteAccess is true when the operation can modify the target.
	// Read-only accesses are permitted outright by rules that allow
	// read access.
	WriteAccess bool

	// Instigator is the process performing the access.
	Instigator policy.ProcessIdentity
}

// Decision is the rendered verdict for one event.
type Decision struct {
	// Allowed is the enforcement outcome. An audit-only rule violation
	// reports Allowed=true with AuditOnly set.
	Allowed bool

	// Matched is false when no rule governs the event; Allowed is then
	// true by default and the remaining fields are zero.
	Matched bool

	// AuditOnly is true when a denying verdict was downgraded to
	// log-only by the rule's audit flag.
	AuditOnly bool

	// Silent and SilentTTY suppress user-facing notification without
	// altering the outcome.
	Silent    bool
	SilentTTY bool

	PolicyName    string
	PolicyVersion string
	CustomMessage string

	EventDetailURL  string
	EventDetailText string

	Duration time.Duration
}

// Recorder consumes decisions for rule violations (denied or audit-only)
// so they can be persisted or forwarded. Implementations must not block.
type Recorder interface {
	RecordDecision(Event, Decision)
}

// Engine evaluates events against the live policy snapshot. Safe for
// concurrent use from any number of worker goroutines.
type Engine struct {
	store      *policy.Store
	hasher     CertificateHasher
	certHashes *cache.Cache[policy.FileID, string]
	logger     *slog.Logger
	recorder   Recorder
}

// Config contains options for the Engine.
type Config struct {
	// Store is the policy store queried per event. Required.
	Store *policy.Store

	// Hasher derives certificate hashes on cache misses. Optional; when
	// nil, patterns matching on certificate hashes rely on the identity
	// already carrying one.
	Hasher CertificateHasher

	// Recorder receives denied and audit-only decisions. Optional.
	Recorder Recorder

	// Logger for structured decision logging. If nil, slog.Default().
	Logger *slog.Logger
}

// New creates an engine. All decisions flow through Evaluate; no verdict
// is rendered anywhere else.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		hasher:     cfg.Hasher,
		certHashes: cache.New[policy.FileID, string](certHashCacheSize, 0),
		logger:     logger,
		recorder:   cfg.Recorder,
	}
}

// Evaluate renders the verdict for one event.
//
// Path-directed rules are consulted first: the target path resolves
// through the snapshot's path index, and the rule's direction decides
// whether a process match permits or denies. When no path-directed rule
// governs the target, process-directed rules are scanned; on an
// instigator match, the target resolves through that rule's own path
// index with the symmetric direction logic. An event no rule governs is
// permitted.
func (e *Engine) Evaluate(ev Event) Decision {
	start := time.Now()

	snap := e.store.Snapshot()
	d, base := e.evaluate(snap, ev)
	d.Duration = time.Since(start)

	if base != nil {
		d.EventDetailURL, d.EventDetailText = snap.EventDetailLink(base)
	}

	e.logDecision(ev, d, snap)

	if e.recorder != nil && d.Matched && (!d.Allowed || d.AuditOnly) {
		e.recorder.RecordDecision(ev, d)
	}
	return d
}

func (e *Engine) evaluate(snap *policy.Snapshot, ev Event) (Decision, *policy.Base) {
	if dp, ok := snap.DataPolicyFor(ev.TargetPath); ok {
		return e.applyPolicy(&dp.Base, ev, e.processMatches(&dp.Base, ev.Instigator))
	}

	var matched Decision
	var matchedBase *policy.Base
	snap.IterateProcessPolicies(func(pp *policy.ProcessPolicy) bool {
		if !e.processMatches(&pp.Base, ev.Instigator) {
			return false
		}
		// Instigator hit: this rule governs the event. Its own path
		// index decides the outcome.
		matched, matchedBase = e.applyPolicy(&pp.Base, ev, pp.MatchesTarget(ev.TargetPath))
		return true
	})
	if matchedBase != nil {
		return matched, matchedBase
	}

	return Decision{Allowed: true}, nil
}

// applyPolicy turns a rule plus its list-match outcome into a decision.
// listMatch is "the instigating process matched the process list" for
// path-directed rules and "the target path matched the path list" for
// process-directed ones; either way the rule's direction decides whether
// a match permits or denies.
func (e *Engine) applyPolicy(b *policy.Base, ev Event, listMatch bool) (Decision, *policy.Base) {
	d := Decision{
		Matched:       true,
		Silent:        b.Silent,
		SilentTTY:     b.SilentTTY,
		PolicyName:    b.Name,
		PolicyVersion: b.Version,
		CustomMessage: b.CustomMessage,
	}

	if b.AllowReadAccess && !ev.WriteAccess {
		d.Allowed = true
		return d, b
	}

	if b.Direction.AllowList() {
		d.Allowed = listMatch
	} else {
		d.Allowed = !listMatch
	}

	if !d.Allowed && b.AuditOnly {
		d.Allowed = true
		d.AuditOnly = true
	}
	return d, b
}

// processMatches checks the instigator against the rule's process list,
// deriving the certificate hash first when any pattern needs it and the
// identity doesn't already carry one. This is the only blocking work on
// the evaluation path, and only on a cache miss.
func (e *Engine) processMatches(b *policy.Base, id policy.ProcessIdentity) bool {
	if id.CertificateSHA256 == "" && b.RequiresCertificateHash() {
		id.CertificateSHA256 = e.certificateHash(id.Executable)
	}
	return b.MatchesProcess(id)
}

// certificateHash returns the memoized certificate hash for file,
// computing and caching it on a miss. Derivation failures are cached as
// a sentinel that matches no configured hash.
func (e *Engine) certificateHash(file policy.FileID) string {
	if h := e.certHashes.Get(file); h != "" {
		return h
	}
	if e.hasher == nil {
		return ""
	}
	h, err := e.hasher.DeriveCertificateHash(file)
	if err != nil || h == "" {
		e.logger.Warn("certificate hash derivation failed",
			"dev", file.Dev, "ino", file.Ino, "error", err)
		h = badCertHash
	}
	e.certHashes.Set(file, h)
	return h
}

// logDecision logs the verdict with structured fields.
func (e *Engine) logDecision(ev Event, d Decision, snap *policy.Snapshot) {
	if !d.Matched {
		e.logger.Debug("file access decision",
			"target", ev.TargetPath,
			"pid", ev.Instigator.Pid,
			"process", ev.Instigator.BinaryPath,
			"decision", "allow",
			"matched", false,
		)
		return
	}

	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	} else if d.AuditOnly {
		outcome = "audit"
	}

	e.logger.Info("file access decision",
		"target", ev.TargetPath,
		"write", ev.WriteAccess,
		"pid", ev.Instigator.Pid,
		"process", ev.Instigator.BinaryPath,
		"signing_id", ev.Instigator.SigningID,
		"team_id", ev.Instigator.TeamID,
		"decision", outcome,
		"policy", d.PolicyName,
		"policy_version", d.PolicyVersion,
		"snapshot_id", snap.ID,
		"duration_us", d.Duration.Microseconds(),
	)
}

// CertHashCacheLen reports the number of memoized certificate hashes,
// for introspection.
func (e *Engine) CertHashCacheLen() int {
	return e.certHashes.Len()
}
