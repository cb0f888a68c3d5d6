package capture

import (
	"errors"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// surveyDriver prompts on the terminal.
type surveyDriver struct{}

func newSurveyDriver() PromptDriver {
	return &surveyDriver{}
}

func (d *surveyDriver) Ask(field fieldmeta.FieldMetadata) (string, error) {
	var out string
	prompt := &survey.Input{
		Message: field.DisplayLabel(),
		Help:    fieldHelp(field),
	}
	if err := survey.AskOne(prompt, &out); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

func (d *surveyDriver) Notify(message string) error {
	_, err := fmt.Fprintln(os.Stdout, message)
	return err
}

func translateSurveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}

// fieldHelp summarizes the declared constraints so the operator sees them
// before answering.
func fieldHelp(field fieldmeta.FieldMetadata) string {
	validation := field.Validation
	if validation == nil {
		return ""
	}

	var hints []string
	if validation.Required {
		hints = append(hints, "required")
	}
	if validation.Type != "" {
		hints = append(hints, string(validation.Type))
	}
	if validation.PatternDescription != "" {
		hints = append(hints, validation.PatternDescription)
	}
	if min, ok := fieldmeta.ResolveBound(validation.MinValue, field.MinValue); ok {
		hints = append(hints, fmt.Sprintf("min %v", min))
	}
	if max, ok := fieldmeta.ResolveBound(validation.MaxValue, field.MaxValue); ok {
		hints = append(hints, fmt.Sprintf("max %v", max))
	}

	help := ""
	for i, hint := range hints {
		if i > 0 {
			help += ", "
		}
		help += hint
	}
	return help
}
