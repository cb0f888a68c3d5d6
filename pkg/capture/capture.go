// Package capture runs an interactive data-entry session over a form
// definition: each field is prompted for, validated immediately, and
// re-asked while it fails. Warnings are shown but never block entry.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clinprecision/go-formval/pkg/engine"
	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// ErrAborted reports that the operator interrupted the session.
var ErrAborted = errors.New("capture: aborted")

// PromptDriver supplies answers and displays notices. The default driver
// prompts on the terminal; tests substitute a scripted one.
type PromptDriver interface {
	Ask(field fieldmeta.FieldMetadata) (string, error)
	Notify(message string) error
}

const defaultMaxAttempts = 3

// Session walks a form definition field by field.
type Session struct {
	def         fieldmeta.FormDefinition
	engine      *engine.Engine
	driver      PromptDriver
	maxAttempts int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithEngine substitutes the validation engine.
func WithEngine(eng *engine.Engine) SessionOption {
	return func(s *Session) {
		if eng != nil {
			s.engine = eng
		}
	}
}

// WithDriver substitutes the prompt driver.
func WithDriver(driver PromptDriver) SessionOption {
	return func(s *Session) {
		if driver != nil {
			s.driver = driver
		}
	}
}

// WithMaxAttempts caps how often a failing field is re-asked before its
// last answer is kept and the session moves on. Values below one are
// ignored.
func WithMaxAttempts(attempts int) SessionOption {
	return func(s *Session) {
		if attempts >= 1 {
			s.maxAttempts = attempts
		}
	}
}

// NewSession constructs a Session over the given definition.
func NewSession(def fieldmeta.FormDefinition, options ...SessionOption) *Session {
	s := &Session{
		def:         def,
		engine:      engine.New(),
		driver:      newSurveyDriver(),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Run prompts for every field in definition order and returns the captured
// values with their final form-level validation. A field that still fails
// after the attempt budget keeps its last answer; the closing ValidateForm
// reports it. Run returns ErrAborted when the operator interrupts.
func (s *Session) Run(ctx context.Context) (map[string]any, engine.FormValidationResult, error) {
	formData := make(map[string]any, len(s.def.Fields))

	for _, field := range s.def.Fields {
		if err := ctx.Err(); err != nil {
			return formData, engine.FormValidationResult{}, err
		}
		if err := s.captureField(field, formData); err != nil {
			return formData, engine.FormValidationResult{}, err
		}
	}

	return formData, s.engine.ValidateForm(formData, s.def), nil
}

func (s *Session) captureField(field fieldmeta.FieldMetadata, formData map[string]any) error {
	for attempt := 1; ; attempt++ {
		answer, err := s.driver.Ask(field)
		if err != nil {
			return err
		}
		formData[field.ID] = answer

		result := s.engine.ValidateField(field.ID, answer, &field, formData)
		for _, warning := range result.Warnings {
			if err := s.driver.Notify(fmt.Sprintf("warning: %s", warning.Message)); err != nil {
				return err
			}
		}
		if result.Valid {
			return nil
		}
		if attempt >= s.maxAttempts {
			return s.driver.Notify(fmt.Sprintf(
				"keeping answer for %s after %d attempts: %s",
				field.DisplayLabel(), attempt, issueSummary(result.Errors)))
		}
		if err := s.driver.Notify(issueSummary(result.Errors)); err != nil {
			return err
		}
	}
}

func issueSummary(issues []engine.Issue) string {
	messages := make([]string, 0, len(issues))
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return strings.Join(messages, "; ")
}
