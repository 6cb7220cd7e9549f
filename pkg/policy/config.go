package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a watch item's options omit a field. Audit-only
// defaults to true so a freshly deployed rule observes before it blocks.
const (
	defaultAllowReadAccess = false
	defaultAuditOnly       = true
	defaultRuleDirection   = PathsAllowProcesses
)

// Config is the raw rule configuration. YAML is the native encoding; JSON
// documents parse as well since YAML is a superset.
type Config struct {
	Version    string      `yaml:"version" json:"version"`
	WatchItems []WatchItem `yaml:"watch_items" json:"watch_items"`

	// Global defaults for the notification detail link. A rule-level
	// value overrides these.
	EventDetailURL  string `yaml:"event_detail_url" json:"event_detail_url"`
	EventDetailText string `yaml:"event_detail_text" json:"event_detail_text"`
}

// WatchItem is one configured rule before compilation.
type WatchItem struct {
	Name      string               `yaml:"name" json:"name"`
	Paths     []WatchPath          `yaml:"paths" json:"paths"`
	Options   WatchOptions         `yaml:"options" json:"options"`
	Processes []ProcessPatternSpec `yaml:"processes" json:"processes"`
}

// WatchPath is one watched path entry.
type WatchPath struct {
	Path     string `yaml:"path" json:"path"`
	IsPrefix bool   `yaml:"is_prefix" json:"is_prefix"`
}

// WatchOptions carries a watch item's behavioral flags. Pointer fields
// distinguish "absent" from an explicit false so defaults apply cleanly.
type WatchOptions struct {
	AllowReadAccess bool   `yaml:"allow_read_access" json:"allow_read_access"`
	AuditOnly       *bool  `yaml:"audit_only" json:"audit_only"`
	RuleType        string `yaml:"rule_type" json:"rule_type"`
	Silent          bool   `yaml:"silent" json:"silent"`
	SilentTTY       bool   `yaml:"silent_tty" json:"silent_tty"`
	CustomMessage   string `yaml:"custom_message" json:"custom_message"`

	EventDetailURL  *string `yaml:"event_detail_url" json:"event_detail_url"`
	EventDetailText string  `yaml:"event_detail_text" json:"event_detail_text"`

	// InvertProcessExceptions is the superseded spelling of rule
	// direction. Honored only when rule_type is absent: true maps the
	// default allow-list to a deny-list.
	InvertProcessExceptions *bool `yaml:"invert_process_exceptions" json:"invert_process_exceptions"`
}

// ParseConfig decodes a raw configuration document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadConfigFile reads and decodes the configuration at path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// direction resolves the item's rule direction from rule_type, falling
// back to the legacy invert_process_exceptions flag, then the default.
func (o *WatchOptions) direction() (RuleDirection, error) {
	if o.RuleType != "" {
		return ParseRuleDirection(o.RuleType)
	}
	if o.InvertProcessExceptions != nil && *o.InvertProcessExceptions {
		return PathsDenyProcesses, nil
	}
	return defaultRuleDirection, nil
}

// Compile validates the configuration and produces the rule sets a
// snapshot is built from. The first invalid field aborts compilation with
// a ConfigError; nothing partial is returned.
func (c *Config) Compile() ([]*DataPolicy, []*ProcessPolicy, error) {
	names := make(map[string]struct{}, len(c.WatchItems))
	var dataPolicies []*DataPolicy
	var processPolicies []*ProcessPolicy

	for _, item := range c.WatchItems {
		if item.Name == "" {
			return nil, nil, configErr("", "name", ErrMissingField)
		}
		if _, dup := names[item.Name]; dup {
			return nil, nil, configErr(item.Name, "name", ErrDuplicateName)
		}
		names[item.Name] = struct{}{}

		if len(item.Paths) == 0 {
			return nil, nil, configErr(item.Name, "paths", ErrMissingField)
		}

		direction, err := item.Options.direction()
		if err != nil {
			return nil, nil, configErr(item.Name, "rule_type", fmt.Errorf("%w: %q", err, item.Options.RuleType))
		}

		patterns := make([]ProcessPattern, 0, len(item.Processes))
		for i, spec := range item.Processes {
			p, err := NewProcessPattern(spec)
			if err != nil {
				return nil, nil, configErr(item.Name, fmt.Sprintf("processes[%d]", i), err)
			}
			patterns = append(patterns, p)
		}

		auditOnly := defaultAuditOnly
		if item.Options.AuditOnly != nil {
			auditOnly = *item.Options.AuditOnly
		}

		base := Base{
			Name:            item.Name,
			Version:         c.Version,
			AllowReadAccess: item.Options.AllowReadAccess,
			AuditOnly:       auditOnly,
			Direction:       direction,
			Silent:          item.Options.Silent,
			SilentTTY:       item.Options.SilentTTY,
			CustomMessage:   item.Options.CustomMessage,
			EventDetailURL:  item.Options.EventDetailURL,
			EventDetailText: item.Options.EventDetailText,
			Processes:       patterns,
		}

		if direction.PathIndexed() {
			// Path-indexed rules get one DataPolicy per watched path, all
			// sharing the item's name and options.
			for _, wp := range item.Paths {
				if wp.Path == "" {
					return nil, nil, configErr(item.Name, "paths.path", ErrMissingField)
				}
				pt := PathTypeLiteral
				if wp.IsPrefix {
					pt = PathTypePrefix
				}
				dataPolicies = append(dataPolicies, &DataPolicy{
					Base:     base,
					Path:     wp.Path,
					PathType: pt,
				})
			}
		} else {
			paths := make([]PathAndType, 0, len(item.Paths))
			for _, wp := range item.Paths {
				if wp.Path == "" {
					return nil, nil, configErr(item.Name, "paths.path", ErrMissingField)
				}
				pt := PathTypeLiteral
				if wp.IsPrefix {
					pt = PathTypePrefix
				}
				paths = append(paths, PathAndType{Path: wp.Path, Type: pt})
			}
			processPolicies = append(processPolicies, NewProcessPolicy(base, paths))
		}
	}

	return dataPolicies, processPolicies, nil
}
