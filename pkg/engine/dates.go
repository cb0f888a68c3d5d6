package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// Comparisons are day-level: both "today" and the entered value are
// normalized to midnight before any bound is applied.
const (
	staleYears    = 100
	farFutureYear = 1
)

// checkDateRules applies the clinical date rules beyond basic type
// checking. An unparseable value is skipped here; the type check already
// reported it.
func (e *Engine) checkDateRules(fieldID string, value any, validation *fieldmeta.FieldValidationMetadata) ([]Issue, []Issue) {
	var errors, warnings []Issue

	parsed, ok := parseDate(value)
	if !ok {
		return errors, warnings
	}

	today := midnight(e.now())
	day := midnight(parsed)

	// Future dates are rejected unless explicitly allowed, or implicitly
	// allowed via the legacy isFutureDate flag when the policy is unset.
	futureAllowed := validation.AllowFutureDates == fieldmeta.FutureDatesAllowed ||
		(validation.AllowFutureDates == fieldmeta.FutureDatesUnspecified && validation.IsFutureDate)
	if !futureAllowed && day.After(today) {
		errors = append(errors, Issue{
			Field:    fieldID,
			Type:     "futureDate",
			Message:  "Date cannot be in the future",
			Severity: fieldmeta.SeverityError,
			RuleID:   "DATE_FUTURE",
		})
	}

	if day.Before(today.AddDate(-staleYears, 0, 0)) {
		warnings = append(warnings, Issue{
			Field:    fieldID,
			Type:     "oldDate",
			Message:  fmt.Sprintf("Date is more than %d years ago. Please verify.", staleYears),
			Severity: fieldmeta.SeverityWarning,
			RuleID:   "DATE_VERY_OLD",
		})
	}

	if validation.AllowFutureDates == fieldmeta.FutureDatesAllowed && day.After(today.AddDate(farFutureYear, 0, 0)) {
		warnings = append(warnings, Issue{
			Field:    fieldID,
			Type:     "farFutureDate",
			Message:  fmt.Sprintf("Date is more than %d year in the future. Please verify.", farFutureYear),
			Severity: fieldmeta.SeverityWarning,
			RuleID:   "DATE_FAR_FUTURE",
		})
	}

	if validation.MinDate != "" {
		if bound, ok := parseDate(validation.MinDate); ok && day.Before(midnight(bound)) {
			errors = append(errors, Issue{
				Field:    fieldID,
				Type:     "minDate",
				Message:  fmt.Sprintf("Date must be on or after %s", validation.MinDate),
				Severity: fieldmeta.SeverityError,
				RuleID:   "DATE_MIN",
			})
		}
	}

	if validation.MaxDate != "" {
		if bound, ok := parseDate(validation.MaxDate); ok && day.After(midnight(bound)) {
			errors = append(errors, Issue{
				Field:    fieldID,
				Type:     "maxDate",
				Message:  fmt.Sprintf("Date must be on or before %s", validation.MaxDate),
				Severity: fieldmeta.SeverityError,
				RuleID:   "DATE_MAX",
			})
		}
	}

	return errors, warnings
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// midnight pins a timestamp to its own calendar day in UTC so values
// parsed in different zones compare as days, not instants.
func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
