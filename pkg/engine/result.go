package engine

import "github.com/clinprecision/go-formval/pkg/fieldmeta"

// Issue is a single validation finding for one field. Errors and warnings
// share the shape; Severity tells them apart. RuleID is the stable
// identifier of the rule that fired ("REQUIRED", "MIN_LENGTH", a custom
// rule's own id, ...) so downstream systems can key on it.
type Issue struct {
	Field    string             `json:"field"`
	Type     string             `json:"type"`
	Message  string             `json:"message"`
	Severity fieldmeta.Severity `json:"severity"`
	RuleID   string             `json:"ruleId"`
}

// FieldValidationResult is the outcome of validating a single field.
// Valid is exactly len(Errors) == 0; warnings never affect validity.
type FieldValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// FormValidationResult aggregates per-field results across a definition.
// The flat lists preserve field-iteration order; the maps carry entries
// only for fields that produced at least one issue.
type FormValidationResult struct {
	Valid         bool               `json:"valid"`
	Errors        []Issue            `json:"errors"`
	Warnings      []Issue            `json:"warnings"`
	FieldErrors   map[string][]Issue `json:"fieldErrors"`
	FieldWarnings map[string][]Issue `json:"fieldWarnings"`
}

// partition buckets mixed-severity rule outcomes after evaluation. Error
// findings block validity, warning findings do not, and info findings are
// advisory only and dropped from both lists.
func partition(issues []Issue, errors, warnings []Issue) ([]Issue, []Issue) {
	for _, issue := range issues {
		switch issue.Severity.Normalized() {
		case fieldmeta.SeverityError:
			errors = append(errors, issue)
		case fieldmeta.SeverityWarning:
			warnings = append(warnings, issue)
		}
	}
	return errors, warnings
}
