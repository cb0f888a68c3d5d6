package engine

import "github.com/clinprecision/go-formval/pkg/fieldmeta"

// Completion reports the fraction (0..1) of required fields that currently
// hold a value. UIs use it for progress display while a form is being
// filled; it has no effect on validation.
func Completion(formData map[string]any, def fieldmeta.FormDefinition) float64 {
	var required, answered int
	for _, field := range def.Fields {
		if field.Validation == nil || !field.Validation.Required {
			continue
		}
		required++
		if HasValue(formData[field.ID]) {
			answered++
		}
	}
	if required == 0 {
		return 1
	}
	return float64(answered) / float64(required)
}
