package engine

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// frozen gives date rules a deterministic "today".
var frozen = time.Date(2026, time.March, 10, 15, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, options ...Option) *Engine {
	t.Helper()
	options = append([]Option{
		WithNow(func() time.Time { return frozen }),
		WithLogger(slog.New(slog.NewTextHandler(testWriter{t}, nil))),
	}, options...)
	return New(options...)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func f64Ptr(v float64) *float64 { return &v }

func TestRequiredAbsentShortCircuits(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "age",
		Validation: &fieldmeta.FieldValidationMetadata{
			Required: true,
			Type:     fieldmeta.FieldTypeInteger,
			MinValue: 18,
			Pattern:  `^\d+$`,
		},
	}

	for _, value := range []any{nil, "", "   "} {
		result := eng.ValidateField("age", value, meta, nil)
		if result.Valid {
			t.Fatalf("expected invalid result for absent value %#v", value)
		}
		if len(result.Errors) != 1 || result.Errors[0].RuleID != "REQUIRED" {
			t.Fatalf("expected exactly one REQUIRED error, got %+v", result.Errors)
		}
		if len(result.Warnings) != 0 {
			t.Fatalf("expected no warnings, got %+v", result.Warnings)
		}
	}
}

func TestOptionalAbsentIsValid(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "notes",
		Validation: &fieldmeta.FieldValidationMetadata{
			Type:      fieldmeta.FieldTypeString,
			MinLength: 5,
			Pattern:   `^[A-Z]`,
		},
		DataQuality: &fieldmeta.DataQualityMetadata{
			RangeChecks: []fieldmeta.RangeCheck{{CheckID: "RC1", Min: f64Ptr(1)}},
		},
	}

	result := eng.ValidateField("notes", "", meta, nil)
	if !result.Valid || len(result.Errors) != 0 || len(result.Warnings) != 0 {
		t.Fatalf("expected trivially valid result, got %+v", result)
	}
}

func TestBooleanFalseCountsAsPresent(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID:         "consent",
		Validation: &fieldmeta.FieldValidationMetadata{Required: true},
	}

	result := eng.ValidateField("consent", false, meta, nil)
	if !result.Valid {
		t.Fatalf("unchecked checkbox should satisfy required, got %+v", result.Errors)
	}
}

func TestNilMetadataIsTriviallyValid(t *testing.T) {
	t.Parallel()

	result := newTestEngine(t).ValidateField("anything", "value", nil, nil)
	if !result.Valid || len(result.Errors) != 0 {
		t.Fatalf("nil metadata must validate, got %+v", result)
	}
}

func TestTypeChecks(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)

	cases := []struct {
		fieldType fieldmeta.FieldType
		value     any
		ruleID    string
	}{
		{fieldmeta.FieldTypeInteger, "12.5", "TYPE_INTEGER"},
		{fieldmeta.FieldTypeInteger, "abc", "TYPE_INTEGER"},
		{fieldmeta.FieldTypeDecimal, "12,5", "TYPE_DECIMAL"},
		{fieldmeta.FieldTypeDate, "not-a-date", "TYPE_DATE"},
		{fieldmeta.FieldTypeDateTime, "13/45/9999x", "TYPE_DATETIME"},
		{fieldmeta.FieldTypeEmail, "invalid@", "TYPE_EMAIL"},
		{fieldmeta.FieldTypePhone, "call me", "TYPE_PHONE"},
		{fieldmeta.FieldTypeURL, "not a url", "TYPE_URL"},
	}

	for _, tc := range cases {
		meta := &fieldmeta.FieldMetadata{
			ID:         "f",
			Validation: &fieldmeta.FieldValidationMetadata{Type: tc.fieldType},
		}
		result := eng.ValidateField("f", tc.value, meta, nil)
		if len(result.Errors) == 0 || result.Errors[0].RuleID != tc.ruleID {
			t.Fatalf("type %s value %#v: expected %s, got %+v", tc.fieldType, tc.value, tc.ruleID, result.Errors)
		}
	}

	passing := []struct {
		fieldType fieldmeta.FieldType
		value     any
	}{
		{fieldmeta.FieldTypeString, 12345},
		{fieldmeta.FieldTypeInteger, "-42"},
		{fieldmeta.FieldTypeInteger, float64(42)},
		{fieldmeta.FieldTypeDecimal, "80.5"},
		{fieldmeta.FieldTypeDate, "2025-06-01"},
		{fieldmeta.FieldTypeEmail, "site@clinic.org"},
		{fieldmeta.FieldTypePhone, "+1 (555) 123-4567"},
		{fieldmeta.FieldTypeURL, "https://example.org/crf"},
	}

	for _, tc := range passing {
		meta := &fieldmeta.FieldMetadata{
			ID:         "f",
			Validation: &fieldmeta.FieldValidationMetadata{Type: tc.fieldType},
		}
		result := eng.ValidateField("f", tc.value, meta, nil)
		if !result.Valid {
			t.Fatalf("type %s value %#v: expected valid, got %+v", tc.fieldType, tc.value, result.Errors)
		}
	}
}

func TestStringLength(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "initials",
		Validation: &fieldmeta.FieldValidationMetadata{
			MinLength: 5,
			MaxLength: 8,
		},
	}

	result := eng.ValidateField("initials", "abc", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "MIN_LENGTH" {
		t.Fatalf("expected exactly one MIN_LENGTH error, got %+v", result.Errors)
	}

	result = eng.ValidateField("initials", "abcde", meta, nil)
	if !result.Valid {
		t.Fatalf("5 characters should satisfy minLength=5, got %+v", result.Errors)
	}

	result = eng.ValidateField("initials", "abcdefghi", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "MAX_LENGTH" {
		t.Fatalf("expected MAX_LENGTH error, got %+v", result.Errors)
	}
}

func TestLengthLegacyLocationAndCoercion(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)

	// Limits written by older study builds live flat on the metadata and
	// may be numeric strings; empty strings mean unset.
	meta := &fieldmeta.FieldMetadata{
		ID:        "code",
		MaxLength: "3",
		MinLength: "",
	}
	result := eng.ValidateField("code", "ABCD", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "MAX_LENGTH" {
		t.Fatalf("expected legacy MAX_LENGTH, got %+v", result.Errors)
	}

	// The structured location wins over the legacy one.
	meta = &fieldmeta.FieldMetadata{
		ID:         "code",
		MaxLength:  "3",
		Validation: &fieldmeta.FieldValidationMetadata{MaxLength: 10},
	}
	result = eng.ValidateField("code", "ABCD", meta, nil)
	if !result.Valid {
		t.Fatalf("structured maxLength=10 should win, got %+v", result.Errors)
	}
}

func TestNumericRange(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "score",
		Validation: &fieldmeta.FieldValidationMetadata{
			MinValue:      0,
			MaxValue:      100,
			AllowNegative: boolPtr(false),
		},
	}

	result := eng.ValidateField("score", 150, meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "MAX_VALUE" {
		t.Fatalf("expected MAX_VALUE, got %+v", result.Errors)
	}

	result = eng.ValidateField("score", -1, meta, nil)
	ruleIDs := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		ruleIDs = append(ruleIDs, issue.RuleID)
	}
	if diff := cmp.Diff([]string{"MIN_VALUE", "NO_NEGATIVE"}, ruleIDs); diff != "" {
		t.Fatalf("unexpected rule ids (-want +got):\n%s", diff)
	}

	result = eng.ValidateField("score", "42", meta, nil)
	if !result.Valid {
		t.Fatalf("numeric string in range should pass, got %+v", result.Errors)
	}
}

func TestDecimalPlaces(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "dose",
		Validation: &fieldmeta.FieldValidationMetadata{
			DecimalPlaces: intPtr(2),
		},
	}

	result := eng.ValidateField("dose", "1.255", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "DECIMAL_PLACES" {
		t.Fatalf("expected DECIMAL_PLACES, got %+v", result.Errors)
	}

	if result := eng.ValidateField("dose", "1.25", meta, nil); !result.Valid {
		t.Fatalf("two decimals should pass, got %+v", result.Errors)
	}
	// Trailing zeros do not count as extra precision.
	if result := eng.ValidateField("dose", "1.250", meta, nil); !result.Valid {
		t.Fatalf("1.250 normalizes to two decimals, got %+v", result.Errors)
	}
}

func TestPattern(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "subject",
		Validation: &fieldmeta.FieldValidationMetadata{
			Pattern:            `^[A-Z]{2}-\d{4}$`,
			PatternDescription: "two letters, dash, four digits",
		},
	}

	result := eng.ValidateField("subject", "XX-123", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "PATTERN" {
		t.Fatalf("expected PATTERN error, got %+v", result.Errors)
	}
	if want := "Invalid format. Expected: two letters, dash, four digits"; result.Errors[0].Message != want {
		t.Fatalf("message = %q, want %q", result.Errors[0].Message, want)
	}

	if result := eng.ValidateField("subject", "AB-1234", meta, nil); !result.Valid {
		t.Fatalf("matching value should pass, got %+v", result.Errors)
	}
}

func TestMalformedPatternFailsOpen(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "subject",
		Validation: &fieldmeta.FieldValidationMetadata{
			Pattern:   `[unclosed`,
			MaxLength: 3,
		},
	}

	// The broken pattern is skipped; the rest of the pipeline still runs.
	result := eng.ValidateField("subject", "ABCD", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "MAX_LENGTH" {
		t.Fatalf("expected only MAX_LENGTH, got %+v", result.Errors)
	}
}

func TestDateFutureRules(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	tomorrow := frozen.AddDate(0, 0, 1).Format("2006-01-02")

	meta := &fieldmeta.FieldMetadata{
		ID:         "visitDate",
		Validation: &fieldmeta.FieldValidationMetadata{Type: fieldmeta.FieldTypeDate},
	}
	result := eng.ValidateField("visitDate", tomorrow, meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "DATE_FUTURE" {
		t.Fatalf("expected DATE_FUTURE by default, got %+v", result.Errors)
	}

	meta.Validation.AllowFutureDates = fieldmeta.FutureDatesAllowed
	result = eng.ValidateField("visitDate", tomorrow, meta, nil)
	if !result.Valid {
		t.Fatalf("future date should pass when allowed, got %+v", result.Errors)
	}

	// Legacy flag: unspecified policy plus isFutureDate keeps the date.
	meta.Validation.AllowFutureDates = fieldmeta.FutureDatesUnspecified
	meta.Validation.IsFutureDate = true
	result = eng.ValidateField("visitDate", tomorrow, meta, nil)
	if !result.Valid {
		t.Fatalf("legacy isFutureDate should allow the date, got %+v", result.Errors)
	}

	meta.Validation.AllowFutureDates = fieldmeta.FutureDatesDisallowed
	result = eng.ValidateField("visitDate", tomorrow, meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "DATE_FUTURE" {
		t.Fatalf("explicit disallow must reject, got %+v", result.Errors)
	}
}

func TestVeryOldDateWarns(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID:         "birthDate",
		Validation: &fieldmeta.FieldValidationMetadata{Type: fieldmeta.FieldTypeDate},
	}

	ancient := frozen.AddDate(-150, 0, 0).Format("2006-01-02")
	result := eng.ValidateField("birthDate", ancient, meta, nil)
	if !result.Valid {
		t.Fatalf("warnings must not affect validity, got %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].RuleID != "DATE_VERY_OLD" {
		t.Fatalf("expected DATE_VERY_OLD warning, got %+v", result.Warnings)
	}
}

func TestFarFutureWarnsOnlyWhenAllowed(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	farFuture := frozen.AddDate(2, 0, 0).Format("2006-01-02")

	meta := &fieldmeta.FieldMetadata{
		ID: "followUp",
		Validation: &fieldmeta.FieldValidationMetadata{
			Type:             fieldmeta.FieldTypeDate,
			AllowFutureDates: fieldmeta.FutureDatesAllowed,
		},
	}
	result := eng.ValidateField("followUp", farFuture, meta, nil)
	if !result.Valid {
		t.Fatalf("allowed future date must not error, got %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].RuleID != "DATE_FAR_FUTURE" {
		t.Fatalf("expected DATE_FAR_FUTURE warning, got %+v", result.Warnings)
	}
}

func TestDateBounds(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "screeningDate",
		Validation: &fieldmeta.FieldValidationMetadata{
			Type:    fieldmeta.FieldTypeDate,
			MinDate: "2026-01-01",
			MaxDate: "2026-03-01",
		},
	}

	result := eng.ValidateField("screeningDate", "2025-12-31", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "DATE_MIN" {
		t.Fatalf("expected DATE_MIN, got %+v", result.Errors)
	}
	if want := "Date must be on or after 2026-01-01"; result.Errors[0].Message != want {
		t.Fatalf("message = %q, want %q", result.Errors[0].Message, want)
	}

	result = eng.ValidateField("screeningDate", "2026-03-02", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "DATE_MAX" {
		t.Fatalf("expected DATE_MAX, got %+v", result.Errors)
	}

	// Bounds are inclusive.
	if result := eng.ValidateField("screeningDate", "2026-03-01", meta, nil); !result.Valid {
		t.Fatalf("boundary date should pass, got %+v", result.Errors)
	}
}

func TestCustomRulesSeverityBucketing(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "weight",
		Validation: &fieldmeta.FieldValidationMetadata{
			CustomRules: []fieldmeta.ValidationRule{
				{
					RuleID:       "WT001",
					RuleType:     "plausibility",
					Expression:   "value < 300",
					ErrorMessage: "Weight above 300 kg is not plausible",
				},
				{
					RuleID:       "WT002",
					Expression:   "value < 200",
					ErrorMessage: "Weight above 200 kg, please verify",
					Severity:     fieldmeta.SeverityWarning,
				},
				{
					RuleID:       "WT003",
					Expression:   "false",
					ErrorMessage: "never runs",
					Enabled:      boolPtr(false),
				},
			},
		},
	}

	result := eng.ValidateField("weight", float64(250), meta, map[string]any{"weight": float64(250)})
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors at 250, got %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].RuleID != "WT002" {
		t.Fatalf("expected WT002 warning, got %+v", result.Warnings)
	}

	result = eng.ValidateField("weight", float64(350), meta, map[string]any{"weight": float64(350)})
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "WT001" {
		t.Fatalf("expected WT001 error, got %+v", result.Errors)
	}
	if result.Errors[0].Type != "plausibility" {
		t.Fatalf("expected rule type to carry through, got %q", result.Errors[0].Type)
	}
}

func TestBrokenExpressionFailsOpen(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "height",
		Validation: &fieldmeta.FieldValidationMetadata{
			MaxValue: 250,
			CustomRules: []fieldmeta.ValidationRule{
				{RuleID: "BROKEN", Expression: "value >>> nonsense ((", ErrorMessage: "boom"},
			},
		},
	}

	// The broken rule yields nothing and the rest of the pipeline runs.
	result := eng.ValidateField("height", float64(300), meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "MAX_VALUE" {
		t.Fatalf("expected only MAX_VALUE, got %+v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", result.Warnings)
	}
}

func TestConditionalRequired(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	rules := []fieldmeta.ConditionalValidationRule{
		{
			Condition: `status == "withdrawn"`,
			Rules:     fieldmeta.ConditionalRules{Required: true},
		},
	}

	// White-box: the conditional stage sees the raw value, so an absent
	// value with a met condition fires CONDITIONAL_REQUIRED.
	issues := eng.checkConditional("withdrawReason", nil, rules, map[string]any{"status": "withdrawn"})
	if len(issues) != 1 || issues[0].RuleID != "CONDITIONAL_REQUIRED" {
		t.Fatalf("expected CONDITIONAL_REQUIRED, got %+v", issues)
	}

	issues = eng.checkConditional("withdrawReason", "subject moved away", rules, map[string]any{"status": "withdrawn"})
	if len(issues) != 0 {
		t.Fatalf("present value should satisfy conditional required, got %+v", issues)
	}

	issues = eng.checkConditional("withdrawReason", nil, rules, map[string]any{"status": "active"})
	if len(issues) != 0 {
		t.Fatalf("unmet condition should not fire, got %+v", issues)
	}
}

func TestRangeChecks(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "pulse",
		DataQuality: &fieldmeta.DataQualityMetadata{
			RangeChecks: []fieldmeta.RangeCheck{
				{
					CheckID: "PULSE_SOFT",
					Type:    fieldmeta.RangeTypeSoft,
					Min:     f64Ptr(40),
					Max:     f64Ptr(120),
					Action:  fieldmeta.RangeActionWarning,
					Message: "Pulse outside expected range",
				},
				{
					CheckID: "PULSE_HARD",
					Type:    fieldmeta.RangeTypeHard,
					Min:     f64Ptr(20),
					Max:     f64Ptr(220),
					Action:  fieldmeta.RangeActionError,
					Message: "Pulse outside physiological range",
				},
			},
		},
	}

	result := eng.ValidateField("pulse", "130", meta, nil)
	if !result.Valid {
		t.Fatalf("soft check must not block, got %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].RuleID != "PULSE_SOFT" {
		t.Fatalf("expected PULSE_SOFT warning, got %+v", result.Warnings)
	}

	result = eng.ValidateField("pulse", "250", meta, nil)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "PULSE_HARD" {
		t.Fatalf("expected PULSE_HARD error, got %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].RuleID != "PULSE_SOFT" {
		t.Fatalf("expected PULSE_SOFT warning too, got %+v", result.Warnings)
	}

	// Non-numeric values skip range checks entirely.
	result = eng.ValidateField("pulse", "unknown", meta, nil)
	if len(result.Errors) != 0 || len(result.Warnings) != 0 {
		t.Fatalf("non-numeric value must skip range checks, got %+v", result)
	}
}

func TestCrossFieldValidation(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "endDate",
		DataQuality: &fieldmeta.DataQualityMetadata{
			CrossFieldValidation: []fieldmeta.CrossFieldValidationRule{
				{
					RuleID:        "DATE_ORDER",
					Expression:    "endDate >= startDate",
					Message:       "End date must not precede start date",
					RelatedFields: []string{"startDate"},
				},
			},
		},
	}

	formData := map[string]any{
		"startDate": "2024-01-01",
		"endDate":   "2023-01-01",
	}
	result := eng.ValidateField("endDate", "2023-01-01", meta, formData)
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "DATE_ORDER" {
		t.Fatalf("expected DATE_ORDER error, got %+v", result.Errors)
	}
	if result.Errors[0].Message != "End date must not precede start date" {
		t.Fatalf("unexpected message %q", result.Errors[0].Message)
	}

	formData["endDate"] = "2024-06-01"
	result = eng.ValidateField("endDate", "2024-06-01", meta, formData)
	if !result.Valid {
		t.Fatalf("ordered dates should pass, got %+v", result.Errors)
	}
}

func TestCrossFieldCurrentFieldVariable(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "diastolic",
		DataQuality: &fieldmeta.DataQualityMetadata{
			CrossFieldValidation: []fieldmeta.CrossFieldValidationRule{
				{
					RuleID:     "BP_ORDER",
					Expression: "currentField < systolic",
					Message:    "Diastolic must be below systolic",
				},
			},
		},
	}

	result := eng.ValidateField("diastolic", float64(130), meta, map[string]any{"systolic": float64(120)})
	if len(result.Errors) != 1 || result.Errors[0].RuleID != "BP_ORDER" {
		t.Fatalf("expected BP_ORDER error, got %+v", result.Errors)
	}
}

func TestValidateFieldIsIdempotent(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	meta := &fieldmeta.FieldMetadata{
		ID: "visitDate",
		Validation: &fieldmeta.FieldValidationMetadata{
			Required: true,
			Type:     fieldmeta.FieldTypeDate,
			MinDate:  "2026-01-01",
		},
	}
	formData := map[string]any{"visitDate": "2025-06-01"}

	first := eng.ValidateField("visitDate", "2025-06-01", meta, formData)
	second := eng.ValidateField("visitDate", "2025-06-01", meta, formData)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ between identical calls (-first +second):\n%s", diff)
	}
}
