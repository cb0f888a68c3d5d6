package engine

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/clinprecision/go-formval/pkg/expr"
	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// ExpressionEvaluator evaluates a rule author's boolean expression against
// a map of named values. *expr.Evaluator is the default implementation.
type ExpressionEvaluator interface {
	Eval(expression string, values map[string]any) (bool, error)
}

// Engine validates form values against per-field metadata. It holds no
// mutable state, so one Engine may serve concurrent validations.
//
// Configuration and evaluation faults (malformed patterns, broken
// expressions) are never surfaced as validation errors: the offending rule
// is logged and treated as passed, so a misconfigured study cannot lock
// users out of data entry.
type Engine struct {
	log  *slog.Logger
	now  func() time.Time
	eval ExpressionEvaluator
}

// Option configures an Engine during construction.
type Option func(*Engine)

// WithLogger overrides the logger used for fail-open diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithNow overrides the wall-clock source used by date rules. Tests freeze
// it to make future/past checks deterministic.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEvaluator swaps the expression evaluator.
func WithEvaluator(eval ExpressionEvaluator) Option {
	return func(e *Engine) {
		if eval != nil {
			e.eval = eval
		}
	}
}

// New constructs an Engine with the default sandboxed evaluator.
func New(options ...Option) *Engine {
	e := &Engine{
		log:  slog.Default(),
		now:  time.Now,
		eval: expr.New(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ValidateField produces the complete set of errors and warnings for one
// field. allFormData supplies the other fields' current values for
// cross-field and conditional rules; it is read, never mutated.
//
// Rule categories run in a fixed order: presence, type, date rules, string
// length, numeric range, pattern, custom rules, conditional validation,
// data-quality range checks, cross-field rules. An absent value
// short-circuits after the presence check.
func (e *Engine) ValidateField(fieldID string, value any, meta *fieldmeta.FieldMetadata, allFormData map[string]any) FieldValidationResult {
	var errors, warnings []Issue

	if meta == nil {
		return FieldValidationResult{Valid: true, Errors: errors, Warnings: warnings}
	}

	validation := meta.Validation
	if validation == nil {
		validation = &fieldmeta.FieldValidationMetadata{}
	}

	if validation.Required && !HasValue(value) {
		errors = append(errors, Issue{
			Field:    fieldID,
			Type:     "required",
			Message:  "This field is required",
			Severity: fieldmeta.SeverityError,
			RuleID:   "REQUIRED",
		})
	}

	// Absent values stop here: a missing answer either already earned its
	// REQUIRED error or is simply not there yet.
	if !HasValue(value) {
		return FieldValidationResult{Valid: len(errors) == 0, Errors: errors, Warnings: warnings}
	}

	if validation.Type != "" {
		if issue := checkType(fieldID, value, validation.Type); issue != nil {
			errors = append(errors, *issue)
		}
	}

	if validation.Type == fieldmeta.FieldTypeDate || validation.Type == fieldmeta.FieldTypeDateTime {
		dateErrors, dateWarnings := e.checkDateRules(fieldID, value, validation)
		errors = append(errors, dateErrors...)
		warnings = append(warnings, dateWarnings...)
	}

	if s, ok := value.(string); ok {
		errors = append(errors, checkLength(fieldID, s, validation, meta)...)
	}

	if num, ok := numericValue(value); ok {
		errors = append(errors, checkNumericRange(fieldID, num, validation, meta)...)
	}

	if validation.Pattern != "" {
		if issue := e.checkPattern(fieldID, value, validation); issue != nil {
			errors = append(errors, *issue)
		}
	}

	if len(validation.CustomRules) > 0 {
		outcomes := e.checkCustomRules(fieldID, value, validation.CustomRules, allFormData)
		errors, warnings = partition(outcomes, errors, warnings)
	}

	if len(validation.Conditional) > 0 {
		errors = append(errors, e.checkConditional(fieldID, value, validation.Conditional, allFormData)...)
	}

	if meta.DataQuality != nil && len(meta.DataQuality.RangeChecks) > 0 {
		outcomes := checkRanges(fieldID, value, meta.DataQuality.RangeChecks)
		errors, warnings = partition(outcomes, errors, warnings)
	}

	if meta.DataQuality != nil && len(meta.DataQuality.CrossFieldValidation) > 0 {
		outcomes := e.checkCrossField(fieldID, value, meta.DataQuality.CrossFieldValidation, allFormData)
		errors, warnings = partition(outcomes, errors, warnings)
	}

	return FieldValidationResult{Valid: len(errors) == 0, Errors: errors, Warnings: warnings}
}

// ValidateForm validates every field of the definition in order. A
// definition without fields is trivially valid.
func (e *Engine) ValidateForm(formData map[string]any, def fieldmeta.FormDefinition) FormValidationResult {
	result := FormValidationResult{
		Valid:         true,
		FieldErrors:   make(map[string][]Issue),
		FieldWarnings: make(map[string][]Issue),
	}

	for i := range def.Fields {
		field := def.Fields[i]
		fieldResult := e.ValidateField(field.ID, formData[field.ID], &field, formData)

		if len(fieldResult.Errors) > 0 {
			result.Errors = append(result.Errors, fieldResult.Errors...)
			result.FieldErrors[field.ID] = fieldResult.Errors
		}
		if len(fieldResult.Warnings) > 0 {
			result.Warnings = append(result.Warnings, fieldResult.Warnings...)
			result.FieldWarnings[field.ID] = fieldResult.Warnings
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

var (
	integerPattern = regexp.MustCompile(`^-?\d+$`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern   = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

func checkType(fieldID string, value any, expected fieldmeta.FieldType) *Issue {
	str := stringify(value)

	fail := func(message, ruleID string) *Issue {
		return &Issue{
			Field:    fieldID,
			Type:     "type",
			Message:  message,
			Severity: fieldmeta.SeverityError,
			RuleID:   ruleID,
		}
	}

	switch expected {
	case fieldmeta.FieldTypeString:
		return nil
	case fieldmeta.FieldTypeInteger:
		if !integerPattern.MatchString(str) {
			return fail("Value must be an integer", "TYPE_INTEGER")
		}
	case fieldmeta.FieldTypeDecimal:
		if _, ok := numericValue(value); !ok {
			return fail("Value must be a number", "TYPE_DECIMAL")
		}
	case fieldmeta.FieldTypeDate:
		if _, ok := parseDate(value); !ok {
			return fail("Invalid date format", "TYPE_DATE")
		}
	case fieldmeta.FieldTypeDateTime:
		if _, ok := parseDate(value); !ok {
			return fail("Invalid date/time format", "TYPE_DATETIME")
		}
	case fieldmeta.FieldTypeEmail:
		if !emailPattern.MatchString(str) {
			return fail("Invalid email format", "TYPE_EMAIL")
		}
	case fieldmeta.FieldTypePhone:
		if !phonePattern.MatchString(str) {
			return fail("Invalid phone number format", "TYPE_PHONE")
		}
	case fieldmeta.FieldTypeURL:
		if !isURL(str) {
			return fail("Invalid URL format", "TYPE_URL")
		}
	}
	return nil
}

func checkLength(fieldID, value string, validation *fieldmeta.FieldValidationMetadata, meta *fieldmeta.FieldMetadata) []Issue {
	var issues []Issue
	length := utf8.RuneCountInString(value)

	if min, ok := fieldmeta.ResolveLimit(validation.MinLength, meta.MinLength); ok && length < min {
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "minLength",
			Message:  fmt.Sprintf("Minimum length is %d characters", min),
			Severity: fieldmeta.SeverityError,
			RuleID:   "MIN_LENGTH",
		})
	}
	if max, ok := fieldmeta.ResolveLimit(validation.MaxLength, meta.MaxLength); ok && length > max {
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "maxLength",
			Message:  fmt.Sprintf("Maximum length is %d characters", max),
			Severity: fieldmeta.SeverityError,
			RuleID:   "MAX_LENGTH",
		})
	}
	return issues
}

func checkNumericRange(fieldID string, num float64, validation *fieldmeta.FieldValidationMetadata, meta *fieldmeta.FieldMetadata) []Issue {
	var issues []Issue

	if min, ok := fieldmeta.ResolveBound(validation.MinValue, meta.MinValue); ok && num < min {
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "minValue",
			Message:  fmt.Sprintf("Value must be at least %s", formatNumber(min)),
			Severity: fieldmeta.SeverityError,
			RuleID:   "MIN_VALUE",
		})
	}
	if max, ok := fieldmeta.ResolveBound(validation.MaxValue, meta.MaxValue); ok && num > max {
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "maxValue",
			Message:  fmt.Sprintf("Value must be at most %s", formatNumber(max)),
			Severity: fieldmeta.SeverityError,
			RuleID:   "MAX_VALUE",
		})
	}

	if validation.DecimalPlaces != nil {
		if places := decimalPlaces(num); places > *validation.DecimalPlaces {
			issues = append(issues, Issue{
				Field:    fieldID,
				Type:     "decimalPlaces",
				Message:  fmt.Sprintf("Maximum %d decimal places allowed", *validation.DecimalPlaces),
				Severity: fieldmeta.SeverityError,
				RuleID:   "DECIMAL_PLACES",
			})
		}
	}

	if validation.AllowNegative != nil && !*validation.AllowNegative && num < 0 {
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "allowNegative",
			Message:  "Negative values are not allowed",
			Severity: fieldmeta.SeverityError,
			RuleID:   "NO_NEGATIVE",
		})
	}

	return issues
}

func (e *Engine) checkPattern(fieldID string, value any, validation *fieldmeta.FieldValidationMetadata) *Issue {
	re, err := regexp.Compile(validation.Pattern)
	if err != nil {
		// Fail open: a broken pattern is a rule-authoring defect, not a
		// data error.
		e.log.Warn("skipping malformed validation pattern",
			slog.String("field", fieldID),
			slog.String("pattern", validation.Pattern),
			slog.Any("error", err))
		return nil
	}
	if re.MatchString(stringify(value)) {
		return nil
	}

	message := "Value does not match required pattern"
	if validation.PatternDescription != "" {
		message = fmt.Sprintf("Invalid format. Expected: %s", validation.PatternDescription)
	}
	return &Issue{
		Field:    fieldID,
		Type:     "pattern",
		Message:  message,
		Severity: fieldmeta.SeverityError,
		RuleID:   "PATTERN",
	}
}

func (e *Engine) checkCustomRules(fieldID string, value any, rules []fieldmeta.ValidationRule, allFormData map[string]any) []Issue {
	var issues []Issue
	ctx := fieldContext(value, allFormData)

	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}
		ok, err := e.eval.Eval(rule.Expression, ctx)
		if err != nil {
			e.log.Warn("skipping custom rule after evaluation error",
				slog.String("field", fieldID),
				slog.String("rule", rule.RuleID),
				slog.Any("error", err))
			continue
		}
		if ok {
			continue
		}

		ruleType := rule.RuleType
		if ruleType == "" {
			ruleType = "custom"
		}
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     ruleType,
			Message:  rule.ErrorMessage,
			Severity: rule.Severity.Normalized(),
			RuleID:   rule.RuleID,
		})
	}
	return issues
}

func (e *Engine) checkConditional(fieldID string, value any, rules []fieldmeta.ConditionalValidationRule, allFormData map[string]any) []Issue {
	var issues []Issue
	ctx := fieldContext(value, allFormData)

	for _, rule := range rules {
		met, err := e.eval.Eval(rule.Condition, ctx)
		if err != nil {
			e.log.Warn("skipping conditional rule after evaluation error",
				slog.String("field", fieldID),
				slog.Any("error", err))
			continue
		}
		if !met {
			continue
		}
		if rule.Rules.Required && !HasValue(value) {
			issues = append(issues, Issue{
				Field:    fieldID,
				Type:     "conditionalRequired",
				Message:  "This field is required based on other field values",
				Severity: fieldmeta.SeverityError,
				RuleID:   "CONDITIONAL_REQUIRED",
			})
		}
	}
	return issues
}

func checkRanges(fieldID string, value any, checks []fieldmeta.RangeCheck) []Issue {
	num, ok := numericValue(value)
	if !ok {
		return nil
	}

	var issues []Issue
	for _, check := range checks {
		outOfRange := (check.Min != nil && num < *check.Min) || (check.Max != nil && num > *check.Max)
		if !outOfRange {
			continue
		}

		severity := fieldmeta.SeverityWarning
		if check.Action == fieldmeta.RangeActionError {
			severity = fieldmeta.SeverityError
		}
		message := check.Message
		if message == "" {
			message = fmt.Sprintf("Value outside %s range", check.Type)
		}
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "rangeCheck",
			Message:  message,
			Severity: severity,
			RuleID:   check.CheckID,
		})
	}
	return issues
}

func (e *Engine) checkCrossField(fieldID string, value any, rules []fieldmeta.CrossFieldValidationRule, allFormData map[string]any) []Issue {
	ctx := make(map[string]any, len(allFormData)+1)
	for key, val := range allFormData {
		ctx[key] = val
	}
	ctx["currentField"] = value

	var issues []Issue
	for _, rule := range rules {
		ok, err := e.eval.Eval(rule.Expression, ctx)
		if err != nil {
			e.log.Warn("skipping cross-field rule after evaluation error",
				slog.String("field", fieldID),
				slog.String("rule", rule.RuleID),
				slog.Any("error", err))
			continue
		}
		if ok {
			continue
		}
		issues = append(issues, Issue{
			Field:    fieldID,
			Type:     "crossField",
			Message:  rule.Message,
			Severity: rule.Severity.Normalized(),
			RuleID:   rule.RuleID,
		})
	}
	return issues
}

// fieldContext builds the evaluation scope for custom and conditional
// rules: the current value under `value` and `field.value`, then every form
// field flattened in. Form fields intentionally shadow the pseudo-variables
// on collision, matching how rule authors have always seen the scope.
func fieldContext(value any, allFormData map[string]any) map[string]any {
	ctx := make(map[string]any, len(allFormData)+2)
	ctx["value"] = value
	ctx["field"] = map[string]any{"value": value}
	for key, val := range allFormData {
		ctx[key] = val
	}
	return ctx
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func decimalPlaces(num float64) int {
	str := strconv.FormatFloat(num, 'f', -1, 64)
	for i := 0; i < len(str); i++ {
		if str[i] == '.' {
			return len(str) - i - 1
		}
	}
	return 0
}
