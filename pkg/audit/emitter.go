package audit

import (
	"log/slog"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// SlogEmitter writes audit events to a structured logger. It is the
// default backend: the daemon always has at least its own log stream.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter writing to logger, or slog.Default()
// when logger is nil.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event with structured fields.
func (e *SlogEmitter) Emit(ev Event) error {
	attrs := make([]any, 0, 8+2*len(ev.Details))
	attrs = append(attrs,
		"event", string(ev.Type),
		"severity", ev.Severity.String(),
	)
	if ev.Policy != "" {
		attrs = append(attrs, "policy", ev.Policy)
	}
	if ev.Target != "" {
		attrs = append(attrs, "target", ev.Target)
	}
	for k, v := range ev.Details {
		attrs = append(attrs, k, v)
	}
	e.logger.Info("audit event", attrs...)
	return nil
}

// FanoutEmitter forwards each event to every backend. Backend failures
// are logged and do not propagate; audit failures must not block
// decisions.
type FanoutEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewFanoutEmitter creates an emitter forwarding to the given backends.
// If logger is nil, slog.Default() is used for error reporting.
func NewFanoutEmitter(logger *slog.Logger, backends ...EventEmitter) *FanoutEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanoutEmitter{backends: backends, logger: logger}
}

// Emit writes the event to all backends. Always returns nil.
func (e *FanoutEmitter) Emit(ev Event) error {
	for _, b := range e.backends {
		if err := b.Emit(ev); err != nil {
			e.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
		}
	}
	return nil
}
