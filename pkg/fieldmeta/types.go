package fieldmeta

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldType enumerates the declared value shapes a field can require.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeDecimal  FieldType = "decimal"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeEmail    FieldType = "email"
	FieldTypePhone    FieldType = "phone"
	FieldTypeURL      FieldType = "url"
)

// Severity classifies a rule outcome. An empty severity is treated as
// SeverityError everywhere a rule fires.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Normalized returns the severity with the error default applied.
func (s Severity) Normalized() Severity {
	if s == "" {
		return SeverityError
	}
	return s
}

// RangeType distinguishes data-quality range check classes.
type RangeType string

const (
	RangeTypeNormal RangeType = "normal"
	RangeTypeSoft   RangeType = "soft"
	RangeTypeHard   RangeType = "hard"
)

// RangeAction describes what a tripped range check should do. Only
// RangeActionError blocks validity; every other action surfaces a warning.
type RangeAction string

const (
	RangeActionWarning RangeAction = "warning"
	RangeActionError   RangeAction = "error"
	RangeActionQuery   RangeAction = "query"
	RangeActionBlock   RangeAction = "block"
)

// FutureDatePolicy is the tri-state "allowFutureDates" flag. The wire value
// is a plain bool; absence maps to FutureDatesUnspecified so the legacy
// isFutureDate flag can still decide.
type FutureDatePolicy int

const (
	FutureDatesUnspecified FutureDatePolicy = iota
	FutureDatesAllowed
	FutureDatesDisallowed
)

// UnmarshalJSON accepts true, false, or null.
func (p *FutureDatePolicy) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = FutureDatesUnspecified
		return nil
	}
	var allowed bool
	if err := json.Unmarshal(trimmed, &allowed); err != nil {
		return fmt.Errorf("fieldmeta: allowFutureDates must be a boolean: %w", err)
	}
	if allowed {
		*p = FutureDatesAllowed
	} else {
		*p = FutureDatesDisallowed
	}
	return nil
}

// MarshalJSON emits the wire bool, or null when unspecified.
func (p FutureDatePolicy) MarshalJSON() ([]byte, error) {
	switch p {
	case FutureDatesAllowed:
		return []byte("true"), nil
	case FutureDatesDisallowed:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalYAML mirrors the JSON behaviour for YAML documents.
func (p *FutureDatePolicy) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*p = FutureDatesUnspecified
		return nil
	}
	var allowed bool
	if err := node.Decode(&allowed); err != nil {
		return fmt.Errorf("fieldmeta: allowFutureDates must be a boolean: %w", err)
	}
	if allowed {
		*p = FutureDatesAllowed
	} else {
		*p = FutureDatesDisallowed
	}
	return nil
}

// ValidationRule is a rule author's boolean expression over the current
// field value and the rest of the form.
type ValidationRule struct {
	RuleID       string   `json:"ruleId" yaml:"ruleId"`
	RuleType     string   `json:"ruleType,omitempty" yaml:"ruleType,omitempty"`
	Expression   string   `json:"expression" yaml:"expression"`
	ErrorMessage string   `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Severity     Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the rule should run; rules default to enabled.
func (r ValidationRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ConditionalRules are the constraints applied when a conditional rule's
// condition holds. Min, Max and Pattern are carried for forward
// compatibility with form-definition authors but only Required is
// evaluated; the authoritative backend behaves the same way.
type ConditionalRules struct {
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Min      any    `json:"min,omitempty" yaml:"min,omitempty"`
	Max      any    `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern  string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// ConditionalValidationRule imposes ConditionalRules on a field only while
// the condition expression holds over the form values.
type ConditionalValidationRule struct {
	Condition string           `json:"condition" yaml:"condition"`
	Rules     ConditionalRules `json:"rules" yaml:"rules"`
}

// RangeCheck is a data-quality bound used to flag clinically implausible
// values. Either bound may be omitted.
type RangeCheck struct {
	CheckID string      `json:"checkId" yaml:"checkId"`
	Type    RangeType   `json:"type,omitempty" yaml:"type,omitempty"`
	Min     *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	Action  RangeAction `json:"action,omitempty" yaml:"action,omitempty"`
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
}

// CrossFieldValidationRule relates the current field to other fields via an
// expression over all form values. RelatedFields is informational only.
type CrossFieldValidationRule struct {
	RuleID        string   `json:"ruleId" yaml:"ruleId"`
	Expression    string   `json:"expression" yaml:"expression"`
	Message       string   `json:"message,omitempty" yaml:"message,omitempty"`
	Severity      Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	RelatedFields []string `json:"relatedFields,omitempty" yaml:"relatedFields,omitempty"`
}

// DataQualityMetadata groups the non-blocking quality rules of a field.
type DataQualityMetadata struct {
	RangeChecks          []RangeCheck               `json:"rangeChecks,omitempty" yaml:"rangeChecks,omitempty"`
	CrossFieldValidation []CrossFieldValidationRule `json:"crossFieldValidation,omitempty" yaml:"crossFieldValidation,omitempty"`
}

// FieldValidationMetadata is a field's validation contract. Length and value
// bounds use `any` because study builders persist them both as numbers and
// as numeric strings; resolution happens through ResolveLimit/ResolveBound.
type FieldValidationMetadata struct {
	Required           bool                        `json:"required,omitempty" yaml:"required,omitempty"`
	Type               FieldType                   `json:"type,omitempty" yaml:"type,omitempty"`
	MinLength          any                         `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength          any                         `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	MinValue           any                         `json:"minValue,omitempty" yaml:"minValue,omitempty"`
	MaxValue           any                         `json:"maxValue,omitempty" yaml:"maxValue,omitempty"`
	DecimalPlaces      *int                        `json:"decimalPlaces,omitempty" yaml:"decimalPlaces,omitempty"`
	AllowNegative      *bool                       `json:"allowNegative,omitempty" yaml:"allowNegative,omitempty"`
	Pattern            string                      `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	PatternDescription string                      `json:"patternDescription,omitempty" yaml:"patternDescription,omitempty"`
	MinDate            string                      `json:"minDate,omitempty" yaml:"minDate,omitempty"`
	MaxDate            string                      `json:"maxDate,omitempty" yaml:"maxDate,omitempty"`
	AllowFutureDates   FutureDatePolicy            `json:"allowFutureDates,omitempty" yaml:"allowFutureDates,omitempty"`
	IsFutureDate       bool                        `json:"isFutureDate,omitempty" yaml:"isFutureDate,omitempty"`
	CustomRules        []ValidationRule            `json:"customRules,omitempty" yaml:"customRules,omitempty"`
	Conditional        []ConditionalValidationRule `json:"conditionalValidation,omitempty" yaml:"conditionalValidation,omitempty"`
}

// FieldMetadata describes one form field. The flat MinLength/MaxLength/
// MinValue/MaxValue fields are the legacy location older study builds wrote
// limits to; the structured Validation block wins when both are present.
type FieldMetadata struct {
	ID          string                   `json:"id" yaml:"id"`
	Label       string                   `json:"label,omitempty" yaml:"label,omitempty"`
	Validation  *FieldValidationMetadata `json:"validation,omitempty" yaml:"validation,omitempty"`
	DataQuality *DataQualityMetadata     `json:"dataQuality,omitempty" yaml:"dataQuality,omitempty"`

	MinLength any `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength any `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	MinValue  any `json:"minValue,omitempty" yaml:"minValue,omitempty"`
	MaxValue  any `json:"maxValue,omitempty" yaml:"maxValue,omitempty"`
}

// DisplayLabel returns the label, falling back to the field id.
func (f FieldMetadata) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

// FormDefinition is an ordered set of field contracts for one study form.
// FormValidation rules are carried for form-level tooling but are not
// evaluated by the engine.
type FormDefinition struct {
	ID             string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name           string           `json:"name,omitempty" yaml:"name,omitempty"`
	Version        string           `json:"version,omitempty" yaml:"version,omitempty"`
	Fields         []FieldMetadata  `json:"fields" yaml:"fields"`
	FormValidation []ValidationRule `json:"formValidation,omitempty" yaml:"formValidation,omitempty"`
}

// Field looks up a field by id.
func (d FormDefinition) Field(id string) (FieldMetadata, bool) {
	for _, field := range d.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return FieldMetadata{}, false
}
