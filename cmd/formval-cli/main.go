package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/clinprecision/go-formval/pkg/capture"
	"github.com/clinprecision/go-formval/pkg/engine"
	"github.com/clinprecision/go-formval/pkg/fieldmeta"
	"github.com/clinprecision/go-formval/pkg/formdef"
	"github.com/clinprecision/go-formval/pkg/openapi"
	"github.com/clinprecision/go-formval/pkg/report"
)

func main() {
	definition := flag.String("definition", "", "form definition path or URL (JSON or YAML)")
	openapiDoc := flag.String("openapi", "", "OpenAPI document to derive the definition from instead")
	operation := flag.String("operation", "", "operationId to extract when using -openapi")
	data := flag.String("data", "", "form data JSON file (stdin if \"-\")")
	interactive := flag.Bool("interactive", false, "capture form data interactively instead of reading -data")
	format := flag.String("format", "text", "report format: text or html")
	output := flag.String("output", "", "output file (stdout if empty)")
	verbose := flag.Bool("verbose", false, "log skipped rules and other diagnostics")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	def, err := loadDefinition(ctx, *definition, *openapiDoc, *operation)
	if err != nil {
		log.Fatalf("Failed to load definition: %v", err)
	}

	eng := engine.New(engine.WithLogger(logger))

	var formData map[string]any
	var result engine.FormValidationResult
	if *interactive {
		session := capture.NewSession(def, capture.WithEngine(eng))
		formData, result, err = session.Run(ctx)
		if err != nil {
			log.Fatalf("Capture failed: %v", err)
		}
	} else {
		formData, err = loadData(*data)
		if err != nil {
			log.Fatalf("Failed to load form data: %v", err)
		}
		result = eng.ValidateForm(formData, def)
	}

	rendered, err := renderReport(*format, def, result)
	if err != nil {
		log.Fatalf("Failed to render report: %v", err)
	}

	if *output != "" {
		if err := os.WriteFile(*output, []byte(rendered), 0o644); err != nil {
			log.Fatalf("Failed to write output: %v", err)
		}
	} else {
		fmt.Print(rendered)
	}

	logger.Debug("validation finished",
		slog.Bool("valid", result.Valid),
		slog.Int("errors", len(result.Errors)),
		slog.Int("warnings", len(result.Warnings)),
		slog.Float64("completion", engine.Completion(formData, def)))

	if !result.Valid {
		os.Exit(1)
	}
}

func loadDefinition(ctx context.Context, definition, openapiDoc, operation string) (fieldmeta.FormDefinition, error) {
	switch {
	case definition != "" && openapiDoc != "":
		return fieldmeta.FormDefinition{}, fmt.Errorf("use either -definition or -openapi, not both")
	case definition != "":
		loader := formdef.NewLoader(formdef.WithHTTPFallback(30 * time.Second))
		return loader.Load(ctx, parseSource(definition))
	case openapiDoc != "":
		if operation == "" {
			return fieldmeta.FormDefinition{}, fmt.Errorf("-openapi requires -operation")
		}
		loader := formdef.NewLoader(formdef.WithHTTPFallback(30 * time.Second))
		raw, err := loader.Fetch(ctx, parseSource(openapiDoc))
		if err != nil {
			return fieldmeta.FormDefinition{}, err
		}
		return openapi.NewAdapter().Definition(ctx, raw, operation)
	default:
		return fieldmeta.FormDefinition{}, fmt.Errorf("either -definition or -openapi is required")
	}
}

func loadData(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}

	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	formData := make(map[string]any)
	if err := json.Unmarshal(raw, &formData); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	return formData, nil
}

func renderReport(format string, def fieldmeta.FormDefinition, result engine.FormValidationResult) (string, error) {
	renderer := report.NewRenderer()
	switch format {
	case "text":
		return renderer.Text(def, result)
	case "html":
		return renderer.HTML(def, result)
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}

func parseSource(raw string) formdef.Source {
	path := strings.TrimSpace(raw)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return formdef.SourceFromURL(path)
	}
	return formdef.SourceFromFile(path)
}
