package formdef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

// Decode parses a form definition from JSON or YAML bytes. Documents whose
// first significant byte opens a JSON value are parsed as JSON; everything
// else goes through the YAML decoder, which also accepts JSON but with
// looser number handling.
func Decode(data []byte) (fieldmeta.FormDefinition, error) {
	var def fieldmeta.FormDefinition

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return def, errors.New("formdef: empty document")
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &def); err != nil {
			return def, fmt.Errorf("formdef: decode json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return def, fmt.Errorf("formdef: decode yaml: %w", err)
		}
	}

	if len(def.Fields) == 0 {
		return def, errors.New("formdef: definition has no fields")
	}
	for i, field := range def.Fields {
		if field.ID == "" {
			return def, fmt.Errorf("formdef: field %d has no id", i)
		}
	}
	return def, nil
}
