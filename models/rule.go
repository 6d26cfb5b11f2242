package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Template types accepted in an event specifier.
const (
	TemplateTypeTarget = "TARGET"
	TemplateTypeCustom = "CUSTOM"
)

// RuleRecordingPrefix prefixes the names of recordings created by rules.
const RuleRecordingPrefix = "auto_"

var (
	ruleNamePattern = regexp.MustCompile(`^[\w]+$`)
	whitespace      = regexp.MustCompile(`\s`)
)

// Rule is an automated rule: when a target matches MatchExpression, a
// continuous recording using EventSpecifier is started on it.
type Rule struct {
	// CouchDB document fields
	ID   string `json:"@id,omitempty" couchdb:"_id"`
	Rev  string `json:"_rev,omitempty" couchdb:"_rev"`
	Type string `json:"@type,omitempty"`

	Name                  string `json:"name" yaml:"name" validate:"required"`
	Description           string `json:"description" yaml:"description"`
	MatchExpression       string `json:"matchExpression" yaml:"matchExpression" validate:"required"`
	EventSpecifier        string `json:"eventSpecifier" yaml:"eventSpecifier" validate:"required"`
	Enabled               bool   `json:"enabled" yaml:"enabled"`
	InitialDelaySeconds   int    `json:"initialDelaySeconds" yaml:"initialDelaySeconds"`
	ArchivalPeriodSeconds int    `json:"archivalPeriodSeconds" yaml:"archivalPeriodSeconds"`
	PreservedArchives     int    `json:"preservedArchives" yaml:"preservedArchives"`
	MaxAgeSeconds         int    `json:"maxAgeSeconds" yaml:"maxAgeSeconds"`
	MaxSizeBytes          int64  `json:"maxSizeBytes" yaml:"maxSizeBytes"`
}

// RuleDocType is the @type of persisted rules.
const RuleDocType = "AutomatedRule"

// RecordingName is the name of the recordings this rule creates.
func (r *Rule) RecordingName() string {
	return RuleRecordingPrefix + r.Name
}

// HasArchival reports whether the rule archives periodically.
func (r *Rule) HasArchival() bool {
	return r.ArchivalPeriodSeconds > 0
}

// NormalizeRuleName replaces whitespace with underscores.
func NormalizeRuleName(name string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
}

// ValidRuleName reports whether name is identifier-safe.
func ValidRuleName(name string) bool {
	return ruleNamePattern.MatchString(name)
}

// EventTemplate names a JFR event template.
type EventTemplate struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// String renders the template back into event specifier form.
func (t EventTemplate) String() string {
	return fmt.Sprintf("template=%s,type=%s", t.Name, t.Type)
}

// ParseEventSpecifier parses "template=<name>,type=<TARGET|CUSTOM>".
// A missing type defaults to TARGET.
func ParseEventSpecifier(spec string) (EventTemplate, error) {
	var t EventTemplate
	for _, part := range strings.Split(spec, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return t, fmt.Errorf("%w: malformed event specifier %q", ErrInvalid, spec)
		}
		switch strings.TrimSpace(k) {
		case "template":
			t.Name = strings.TrimSpace(v)
		case "type":
			t.Type = strings.ToUpper(strings.TrimSpace(v))
		default:
			return t, fmt.Errorf("%w: unknown event specifier key %q", ErrInvalid, k)
		}
	}
	if t.Name == "" {
		return t, fmt.Errorf("%w: event specifier %q has no template", ErrInvalid, spec)
	}
	switch t.Type {
	case "":
		t.Type = TemplateTypeTarget
	case TemplateTypeTarget, TemplateTypeCustom:
	default:
		return t, fmt.Errorf("%w: unknown template type %q", ErrInvalid, t.Type)
	}
	return t, nil
}
