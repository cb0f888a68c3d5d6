// Package report renders validation results for humans: a plain-text
// summary for terminals and logs, and an HTML fragment for review tooling.
// Messages authored in study metadata are sanitized before they reach any
// output so a misconfigured rule cannot inject markup.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"

	"github.com/clinprecision/go-formval/pkg/engine"
	"github.com/clinprecision/go-formval/pkg/fieldmeta"
)

//go:embed templates/*.tpl
var builtinTemplates embed.FS

const (
	textTemplate = "report.txt.tpl"
	htmlTemplate = "report.html.tpl"
)

// Renderer turns a form validation result into report documents.
type Renderer struct {
	mu        sync.Mutex
	set       *pongo2.TemplateSet
	templates map[string]*pongo2.Template
	policy    *bluemonday.Policy
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithTemplates overrides the built-in templates. The filesystem must
// contain report.txt.tpl and report.html.tpl at its root.
func WithTemplates(files fs.FS) RendererOption {
	return func(r *Renderer) {
		if files != nil {
			r.set = pongo2.NewSet("formval-report", pongo2.NewFSLoader(files))
		}
	}
}

// NewRenderer constructs a Renderer using the built-in templates.
func NewRenderer(options ...RendererOption) *Renderer {
	templates, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		panic(fmt.Sprintf("report: embedded templates missing: %v", err))
	}

	r := &Renderer{
		set:       pongo2.NewSet("formval-report", pongo2.NewFSLoader(templates)),
		templates: make(map[string]*pongo2.Template),
		policy:    bluemonday.StrictPolicy(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Text renders the plain-text report.
func (r *Renderer) Text(def fieldmeta.FormDefinition, result engine.FormValidationResult) (string, error) {
	return r.render(textTemplate, def, result)
}

// HTML renders the HTML report fragment.
func (r *Renderer) HTML(def fieldmeta.FormDefinition, result engine.FormValidationResult) (string, error) {
	return r.render(htmlTemplate, def, result)
}

func (r *Renderer) render(name string, def fieldmeta.FormDefinition, result engine.FormValidationResult) (string, error) {
	tmpl, err := r.template(name)
	if err != nil {
		return "", err
	}

	ctx := pongo2.Context{
		"name":     def.Name,
		"formId":   def.ID,
		"valid":    result.Valid,
		"errors":   r.rows(def, result.Errors),
		"warnings": r.rows(def, result.Warnings),
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteWriter(ctx, &buf); err != nil {
		return "", fmt.Errorf("report: execute template %q: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) template(name string) (*pongo2.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.templates[name]; ok {
		return tmpl, nil
	}
	tmpl, err := r.set.FromFile(name)
	if err != nil {
		return nil, fmt.Errorf("report: load template %q: %w", name, err)
	}
	r.templates[name] = tmpl
	return tmpl, nil
}

// rows flattens issues into template rows. Labels come from the definition
// when the field is known; messages pass through the sanitizer because rule
// authors control them.
func (r *Renderer) rows(def fieldmeta.FormDefinition, issues []engine.Issue) []map[string]any {
	rows := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		label := issue.Field
		if field, ok := def.Field(issue.Field); ok {
			label = field.DisplayLabel()
		}
		rows = append(rows, map[string]any{
			"field":    issue.Field,
			"label":    label,
			"message":  r.policy.Sanitize(issue.Message),
			"ruleId":   issue.RuleID,
			"severity": string(issue.Severity),
		})
	}
	return rows
}
