// Package audit emits structured security events for rule violations and
// configuration changes. Emission is best-effort: a failing backend is
// logged and skipped, never letting audit delivery block the decision
// path.
package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityError   Severity = 3
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityNotice:
		return "NOTICE"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a security-relevant audit event.
type EventType string

const (
	// EventAccessDenied records an enforced rule violation.
	EventAccessDenied EventType = "access.denied"

	// EventAccessAudit records a violation of an audit-only rule: logged,
	// not enforced.
	EventAccessAudit EventType = "access.audit"

	// EventConfigReload records a successful rule snapshot install.
	EventConfigReload EventType = "config.reload"

	// EventConfigError records a rejected configuration; the previous
	// snapshot stays live.
	EventConfigError EventType = "config.error"
)

// severityMap maps each event type to its syslog severity.
var severityMap = map[EventType]Severity{
	EventAccessDenied: SeverityWarning,
	EventAccessAudit:  SeverityNotice,
	EventConfigReload: SeverityNotice,
	EventConfigError:  SeverityError,
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning.
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event is one audit record with structured fields.
type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	Policy    string            // matched rule name, if any
	Target    string            // accessed path, for access events
	Details   map[string]string // event-specific fields
}

// NewAccessDenied creates an access.denied event for an enforced
// violation.
func NewAccessDenied(policyName, target, processPath string, pid int) Event {
	return Event{
		Type:      EventAccessDenied,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		Policy:    policyName,
		Target:    target,
		Details: map[string]string{
			"process": processPath,
			"pid":     strconv.Itoa(pid),
		},
	}
}

// NewAccessAudit creates an access.audit event for an audit-only
// violation.
func NewAccessAudit(policyName, target, processPath string, pid int) Event {
	return Event{
		Type:      EventAccessAudit,
		Severity:  SeverityNotice,
		Timestamp: time.Now(),
		Policy:    policyName,
		Target:    target,
		Details: map[string]string{
			"process": processPath,
			"pid":     strconv.Itoa(pid),
		},
	}
}

// NewConfigReload creates a config.reload event for an installed
// snapshot.
func NewConfigReload(policyVersion, source string, ruleCount int) Event {
	return Event{
		Type:      EventConfigReload,
		Severity:  SeverityNotice,
		Timestamp: time.Now(),
		Details: map[string]string{
			"policy_version": policyVersion,
			"source":         source,
			"rule_count":     strconv.Itoa(ruleCount),
		},
	}
}

// NewConfigError creates a config.error event for a rejected
// configuration.
func NewConfigError(source, reason string) Event {
	return Event{
		Type:      EventConfigError,
		Severity:  SeverityError,
		Timestamp: time.Now(),
		Details: map[string]string{
			"source": source,
			"reason": reason,
		},
	}
}
