// Package openapi derives validation form definitions from OpenAPI 3
// documents, so studies that already describe their data-capture API can
// reuse its request schemas as field metadata.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// Adapter converts OpenAPI request schemas into form definitions.
type Adapter struct {
	resolveRefs bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithReferenceResolution validates the document and resolves $ref targets
// before conversion. Slower, but required for specs that factor shared
// schemas into components.
func WithReferenceResolution() AdapterOption {
	return func(a *Adapter) {
		a.resolveRefs = true
	}
}

// NewAdapter constructs an Adapter.
func NewAdapter(options ...AdapterOption) *Adapter {
	a := &Adapter{}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Definition extracts the request-body object schema of the operation with
// the given operationId and maps its properties to validation metadata.
// Properties appear in name order so repeated conversions are stable.
func (a *Adapter) Definition(ctx context.Context, raw []byte, operationID string) (fieldmeta.FormDefinition, error) {
	var def fieldmeta.FormDefinition

	if len(raw) == 0 {
		return def, errors.New("openapi: document payload is empty")
	}
	if operationID == "" {
		return def, errors.New("openapi: operation id is required")
	}

	loader := &openapi3.Loader{Context: ctx}
	spec, err := loader.LoadFromData(raw)
	if err != nil {
		return def, fmt.Errorf("openapi: load document: %w", err)
	}
	if a.resolveRefs {
		if err := spec.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
			return def, fmt.Errorf("openapi: validate document: %w", err)
		}
	}

	operation := findOperation(spec, operationID)
	if operation == nil {
		return def, fmt.Errorf("openapi: operation %q not found", operationID)
	}

	schema := requestSchema(operation)
	if schema == nil {
		return def, fmt.Errorf("openapi: operation %q has no object request schema", operationID)
	}

	def.ID = operationID
	def.Name = operation.Summary
	def.Fields = convertProperties(schema)
	if len(def.Fields) == 0 {
		return def, fmt.Errorf("openapi: operation %q request schema has no properties", operationID)
	}
	return def, nil
}

func findOperation(spec *openapi3.T, operationID string) *openapi3.Operation {
	if spec.Paths == nil {
		return nil
	}
	for _, item := range spec.Paths.Map() {
		if item == nil {
			continue
		}
		for _, op := range item.Operations() {
			if op != nil && op.OperationID == operationID {
				return op
			}
		}
	}
	return nil
}

func requestSchema(operation *openapi3.Operation) *openapi3.Schema {
	if operation.RequestBody == nil || operation.RequestBody.Value == nil {
		return nil
	}
	content := operation.RequestBody.Value.Content
	for _, mediaType := range []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"} {
		if mt, ok := content[mediaType]; ok && mt.Schema != nil && mt.Schema.Value != nil {
			return mt.Schema.Value
		}
	}
	for _, mt := range content {
		if mt.Schema != nil && mt.Schema.Value != nil {
			return mt.Schema.Value
		}
	}
	return nil
}

func convertProperties(schema *openapi3.Schema) []fieldmeta.FieldMetadata {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]fieldmeta.FieldMetadata, 0, len(names))
	for _, name := range names {
		ref := schema.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		fields = append(fields, convertProperty(name, ref.Value, required[name]))
	}
	return fields
}

func convertProperty(name string, prop *openapi3.Schema, required bool) fieldmeta.FieldMetadata {
	validation := &fieldmeta.FieldValidationMetadata{
		Required: required,
		Type:     fieldType(prop),
		Pattern:  prop.Pattern,
	}

	if prop.MinLength != 0 {
		validation.MinLength = int(prop.MinLength)
	}
	if prop.MaxLength != nil {
		validation.MaxLength = int(*prop.MaxLength)
	}
	if prop.Min != nil {
		validation.MinValue = *prop.Min
	}
	if prop.Max != nil {
		validation.MaxValue = *prop.Max
	}

	label := prop.Title
	if label == "" {
		label = name
	}
	return fieldmeta.FieldMetadata{
		ID:         name,
		Label:      label,
		Validation: validation,
	}
}

func fieldType(prop *openapi3.Schema) fieldmeta.FieldType {
	var schemaType string
	if prop.Type != nil && len(prop.Type.Slice()) > 0 {
		schemaType = prop.Type.Slice()[0]
	}

	switch schemaType {
	case "integer":
		return fieldmeta.FieldTypeInteger
	case "number":
		return fieldmeta.FieldTypeDecimal
	case "string":
		switch prop.Format {
		case "date":
			return fieldmeta.FieldTypeDate
		case "date-time":
			return fieldmeta.FieldTypeDateTime
		case "email":
			return fieldmeta.FieldTypeEmail
		case "uri", "url":
			return fieldmeta.FieldTypeURL
		case "phone":
			return fieldmeta.FieldTypePhone
		}
		return fieldmeta.FieldTypeString
	default:
		return fieldmeta.FieldTypeString
	}
}
