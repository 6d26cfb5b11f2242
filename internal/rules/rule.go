// Package rules stores automated rules and applies them to discovered
// targets by starting recordings through the recording orchestrator.
package rules

import (
	"fmt"
	"strings"

	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/models"
)

// Normalize validates rule in place and fills in defaults.
//
// Names have whitespace replaced by underscores and must then be identifier
// safe. When archivalPeriodSeconds is zero no periodic archival happens and
// maxAgeSeconds defaults to zero. Otherwise maxAgeSeconds defaults to the
// archival period, maxSizeBytes defaults to -1 (unbounded) and at least one
// archive must be preserved.
func Normalize(rule *models.Rule, ev *matchexpr.Evaluator) error {
	rule.Name = models.NormalizeRuleName(rule.Name)
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", models.ErrInvalid)
	}
	if !models.ValidRuleName(rule.Name) {
		return fmt.Errorf("%w: rule name %q must contain only letters, digits and underscores", models.ErrInvalid, rule.Name)
	}

	if strings.TrimSpace(rule.MatchExpression) == "" {
		return fmt.Errorf("%w: matchExpression is required", models.ErrInvalid)
	}
	if err := ev.Validate(rule.MatchExpression); err != nil {
		return err
	}

	if strings.TrimSpace(rule.EventSpecifier) == "" {
		return fmt.Errorf("%w: eventSpecifier is required", models.ErrInvalid)
	}
	if _, err := models.ParseEventSpecifier(rule.EventSpecifier); err != nil {
		return err
	}

	switch {
	case rule.ArchivalPeriodSeconds < 0:
		return fmt.Errorf("%w: archivalPeriodSeconds must not be negative", models.ErrInvalid)
	case rule.PreservedArchives < 0:
		return fmt.Errorf("%w: preservedArchives must not be negative", models.ErrInvalid)
	case rule.InitialDelaySeconds < 0:
		return fmt.Errorf("%w: initialDelaySeconds must not be negative", models.ErrInvalid)
	case rule.MaxAgeSeconds < 0:
		return fmt.Errorf("%w: maxAgeSeconds must not be negative", models.ErrInvalid)
	case rule.MaxSizeBytes < -1:
		return fmt.Errorf("%w: maxSizeBytes must be -1 or greater", models.ErrInvalid)
	}

	if !rule.HasArchival() {
		return nil
	}
	if rule.PreservedArchives == 0 {
		return fmt.Errorf("%w: archivalPeriodSeconds requires preservedArchives of at least 1", models.ErrInvalid)
	}
	if rule.MaxAgeSeconds == 0 {
		rule.MaxAgeSeconds = rule.ArchivalPeriodSeconds
	}
	if rule.MaxSizeBytes == 0 {
		rule.MaxSizeBytes = -1
	}
	return nil
}

// RecordingOptions builds the start request a rule issues on a matching target.
func RecordingOptions(rule *models.Rule) (models.RecordingOptions, error) {
	tmpl, err := models.ParseEventSpecifier(rule.EventSpecifier)
	if err != nil {
		return models.RecordingOptions{}, err
	}
	return models.RecordingOptions{
		Name:     rule.RecordingName(),
		Template: tmpl,
		ToDisk:   true,
		MaxAge:   int64(rule.MaxAgeSeconds),
		MaxSize:  rule.MaxSizeBytes,
		Labels: map[string]string{
			models.LabelTemplateName: tmpl.Name,
			models.LabelTemplateType: tmpl.Type,
			models.LabelRule:         rule.Name,
		},
		Replace: models.ReplaceStopped,
	}, nil
}
