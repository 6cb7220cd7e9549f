package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for the distinct ways a rule configuration can be
// malformed. Callers classify with errors.Is; every one of these is
// recoverable: a failed rebuild leaves the previously installed snapshot
// untouched.
var (
	// ErrNoProcessAttributes is returned when a process pattern sets no
	// attribute at all and so could never match anything.
	ErrNoProcessAttributes = errors.New("process pattern has no attributes set")

	// ErrTeamIDPlatformConflict is returned when a pattern sets both a
	// team ID and the platform-binary flag. Platform binaries have no
	// team ID; the literal team ID "platform" is the one allowed alias.
	ErrTeamIDPlatformConflict = errors.New("team_id and platform_binary are mutually exclusive")

	// ErrUnresolvableTeamID is returned when a signing ID is set without
	// a team ID or platform-binary flag and no "TEAMID:" or "platform:"
	// prefix could be extracted from it.
	ErrUnresolvableTeamID = errors.New("signing_id requires a team_id, platform_binary, or a TEAMID: prefix")

	// ErrInvalidRuleType is returned for an unrecognized rule_type value.
	ErrInvalidRuleType = errors.New("invalid rule_type")

	// ErrInvalidCDHash is returned when a cdhash is not valid hex of the
	// expected length.
	ErrInvalidCDHash = errors.New("cdhash must be 40 hex characters")

	// ErrMissingField is returned when a required configuration field is
	// absent or empty.
	ErrMissingField = errors.New("missing required field")

	// ErrDuplicateName is returned when two watch items share a name.
	ErrDuplicateName = errors.New("duplicate watch item name")
)

// ConfigError wraps one of the sentinel errors above with the watch item
// and field it was found in. Rebuild rejects the whole configuration on
// the first ConfigError; a partial snapshot is never installed.
type ConfigError struct {
	Item  string // watch item name, empty for top-level errors
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Item != "" && e.Field != "":
		return fmt.Sprintf("watch item %q: field %q: %v", e.Item, e.Field, e.Err)
	case e.Item != "":
		return fmt.Sprintf("watch item %q: %v", e.Item, e.Err)
	case e.Field != "":
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(item, field string, err error) *ConfigError {
	return &ConfigError{Item: item, Field: field, Err: err}
}
