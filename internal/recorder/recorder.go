// Package recorder bridges engine decisions to the audit emitter and the
// persistent event store. It implements engine.Recorder.
package recorder

import (
	"log/slog"

	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/engine"
	"github.com/wardenlabs/warden/pkg/store"
)

// Recorder fans a rule-violation decision out to the audit backends and
// the event database. Both legs are best-effort: failures are logged and
// the decision path is never blocked on them.
type Recorder struct {
	emitter audit.EventEmitter
	events  *store.Store
	logger  *slog.Logger
}

// New creates a recorder. emitter and events may each be nil to disable
// that leg.
func New(emitter audit.EventEmitter, events *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	return &Recorder{emitter: emitter, events: events, logger: logger}
}

// RecordDecision implements engine.Recorder for denied and audit-only
// decisions.
func (r *Recorder) RecordDecision(ev engine.Event, d engine.Decision) {
	var auditEvent audit.Event
	decision := "deny"
	if d.AuditOnly {
		decision = "audit"
		auditEvent = audit.NewAccessAudit(d.PolicyName, ev.TargetPath, ev.Instigator.BinaryPath, ev.Instigator.Pid)
	} else {
		auditEvent = audit.NewAccessDenied(d.PolicyName, ev.TargetPath, ev.Instigator.BinaryPath, ev.Instigator.Pid)
	}
	r.emitter.Emit(auditEvent)

	if r.events == nil {
		return
	}
	err := r.events.Record(store.AccessEvent{
		PolicyName: d.PolicyName,
		Version:    d.PolicyVersion,
		Target:     ev.TargetPath,
		Decision:   decision,
		Process: store.ProcessSnapshot{
			Pid:            ev.Instigator.Pid,
			BinaryPath:     ev.Instigator.BinaryPath,
			SigningID:      ev.Instigator.SigningID,
			TeamID:         ev.Instigator.TeamID,
			CDHash:         ev.Instigator.CDHash,
			CertSHA256:     ev.Instigator.CertificateSHA256,
			PlatformBinary: ev.Instigator.PlatformBinary,
		},
	})
	if err != nil {
		r.logger.Error("access event record failed", "policy", d.PolicyName, "error", err)
	}
}
