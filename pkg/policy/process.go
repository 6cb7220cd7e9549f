package policy

import (
	"encoding/hex"
	"strings"
)

// platformTeamIDAlias is the reserved team ID literal that configuration
// may use instead of setting platform_binary directly.
const platformTeamIDAlias = "platform"

// noWildcard marks a signing ID containing no '*'.
const noWildcard = -1

// ProcessIdentity is the code-signing identity of a concrete process, as
// supplied by the event source for each intercepted operation.
type ProcessIdentity struct {
	Pid               int
	BinaryPath        string
	SigningID         string
	TeamID            string
	CDHash            string // lowercase hex
	CertificateSHA256 string // lowercase hex; may be filled in lazily
	PlatformBinary    bool

	// Executable identifies the process's backing binary for certificate
	// hash memoization.
	Executable FileID
}

// FileID is a stable identifier for a file, used as a cache key.
type FileID struct {
	Dev uint64
	Ino uint64
}

// ProcessPatternSpec is the raw, unvalidated form of one entry in a watch
// item's process list. Any subset of fields may be present.
type ProcessPatternSpec struct {
	BinaryPath        string `yaml:"binary_path" json:"binary_path"`
	SigningID         string `yaml:"signing_id" json:"signing_id"`
	TeamID            string `yaml:"team_id" json:"team_id"`
	CDHash            string `yaml:"cdhash" json:"cdhash"`
	CertificateSHA256 string `yaml:"certificate_sha256" json:"certificate_sha256"`
	PlatformBinary    *bool  `yaml:"platform_binary" json:"platform_binary"`
}

// ProcessPattern matches a process identity against a validated set of
// attributes. Attributes left empty on the pattern are not checked.
// Patterns are immutable once constructed and safe for concurrent use.
//
// All fields are comparable, so patterns compare with == and can key maps.
type ProcessPattern struct {
	BinaryPath        string
	SigningID         string
	TeamID            string
	CDHash            string // lowercase hex
	CertificateSHA256 string // lowercase hex
	PlatformBinary    bool
	PlatformBinarySet bool

	// wildcardPos is the byte offset of the single '*' in SigningID, or
	// noWildcard. Computed once at construction so matching never
	// re-scans the pattern.
	wildcardPos int
}

// NewProcessPattern validates spec and returns the compiled pattern.
//
// Validation enforces three invariants: at least one attribute must be
// set; a team ID and platform_binary=true cannot both be set, except for
// the reserved team ID "platform" which normalizes to the platform flag;
// and a signing ID without a team ID or platform flag must carry a
// resolvable "TEAMID:" or "platform:" prefix, which is split off into the
// corresponding attribute.
func NewProcessPattern(spec ProcessPatternSpec) (ProcessPattern, error) {
	p := ProcessPattern{
		BinaryPath:        spec.BinaryPath,
		SigningID:         spec.SigningID,
		TeamID:            spec.TeamID,
		CertificateSHA256: strings.ToLower(spec.CertificateSHA256),
		wildcardPos:       noWildcard,
	}
	if spec.PlatformBinary != nil {
		p.PlatformBinary = *spec.PlatformBinary
		p.PlatformBinarySet = true
	}

	if spec.CDHash != "" {
		cdh := strings.ToLower(spec.CDHash)
		if len(cdh) != 40 {
			return ProcessPattern{}, ErrInvalidCDHash
		}
		if _, err := hex.DecodeString(cdh); err != nil {
			return ProcessPattern{}, ErrInvalidCDHash
		}
		p.CDHash = cdh
	}

	if p.BinaryPath == "" && p.SigningID == "" && p.TeamID == "" &&
		p.CDHash == "" && p.CertificateSHA256 == "" && !p.PlatformBinarySet {
		return ProcessPattern{}, ErrNoProcessAttributes
	}

	if p.TeamID != "" && p.PlatformBinarySet && p.PlatformBinary {
		if p.TeamID != platformTeamIDAlias {
			return ProcessPattern{}, ErrTeamIDPlatformConflict
		}
		p.TeamID = ""
	}

	// A bare signing ID is ambiguous across signers. Derive the team ID
	// from its prefix, or flag platform binaries via the "platform:"
	// form.
	if p.SigningID != "" && p.TeamID == "" && !p.PlatformBinarySet {
		prefix, rest, found := strings.Cut(p.SigningID, ":")
		if !found || prefix == "" || rest == "" {
			return ProcessPattern{}, ErrUnresolvableTeamID
		}
		if prefix == platformTeamIDAlias {
			p.PlatformBinary = true
			p.PlatformBinarySet = true
		} else {
			p.TeamID = prefix
		}
		p.SigningID = rest
	}

	p.wildcardPos = strings.IndexByte(p.SigningID, '*')
	return p, nil
}

// Matches reports whether id satisfies every attribute set on the
// pattern. Attributes the pattern leaves empty are wildcards.
func (p *ProcessPattern) Matches(id ProcessIdentity) bool {
	if p.BinaryPath != "" && p.BinaryPath != id.BinaryPath {
		return false
	}
	if p.TeamID != "" && p.TeamID != id.TeamID {
		return false
	}
	if p.CDHash != "" && p.CDHash != strings.ToLower(id.CDHash) {
		return false
	}
	if p.CertificateSHA256 != "" && p.CertificateSHA256 != strings.ToLower(id.CertificateSHA256) {
		return false
	}
	if p.PlatformBinarySet && p.PlatformBinary != id.PlatformBinary {
		return false
	}
	if p.SigningID != "" && !p.matchesSigningID(id.SigningID) {
		return false
	}
	return true
}

// RequiresCertificateHash reports whether matching this pattern needs the
// candidate's certificate hash. Callers use this to decide when to pay
// for hash derivation.
func (p *ProcessPattern) RequiresCertificateHash() bool {
	return p.CertificateSHA256 != ""
}

// matchesSigningID compares a candidate signing ID against the pattern's,
// honoring the single-'*' wildcard: the candidate must carry the
// pattern's prefix before the wildcard and suffix after it, with anything
// in between.
func (p *ProcessPattern) matchesSigningID(candidate string) bool {
	if p.wildcardPos == noWildcard {
		return candidate == p.SigningID
	}
	prefix := p.SigningID[:p.wildcardPos]
	suffix := p.SigningID[p.wildcardPos+1:]
	return len(candidate) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(candidate, prefix) &&
		strings.HasSuffix(candidate, suffix)
}
