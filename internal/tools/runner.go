package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chartbridge/chartbridge/internal/fhir"
)

// Fetcher retrieves a FHIR document for a resource path and search
// parameters. Satisfied by fhir.Client.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params url.Values) (fhir.Resource, error)
}

// Result is the outcome of one tool call: readable text for the caller,
// with IsError set when the call failed for any reason. Failures are
// reported in the result body rather than as transport errors.
type Result struct {
	Text    string
	IsError bool
}

// MarshalJSON renders the result as a content list carrying a single text
// block.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": r.Text},
		},
		"isError": r.IsError,
	})
}

// Runner executes catalog tools against a FHIR backend.
type Runner struct {
	catalog Catalog
	fetcher Fetcher
}

// NewRunner creates a runner over the given catalog and backend.
func NewRunner(catalog Catalog, fetcher Fetcher) Runner {
	return Runner{catalog: catalog, fetcher: fetcher}
}

// Catalog returns the runner's tool catalog.
func (r Runner) Catalog() Catalog {
	return r.catalog
}

// Run executes the named tool. Argument validation failures, unknown tools
// and backend failures all produce an error result; Run itself never fails.
func (r Runner) Run(ctx context.Context, name string, args map[string]any) Result {
	tool, ok := r.catalog.Lookup(name)
	if !ok {
		return Result{Text: fmt.Sprintf("Unknown tool: %s", name), IsError: true}
	}

	values, err := validateArguments(tool, args)
	if err != nil {
		return Result{
			Text:    fmt.Sprintf("Error executing tool '%s': %s", name, err),
			IsError: true,
		}
	}

	path, params := buildRequest(tool, values)

	log.Info().Str("tool", name).Str("resource", tool.Resource).Msg("tool call")

	doc, err := r.fetcher.Fetch(ctx, path, params)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("tool call failed")
		return Result{
			Text:    fmt.Sprintf("Error executing tool '%s': %s", name, err),
			IsError: true,
		}
	}

	if tool.Format == "patient" {
		return Result{Text: FormatPatient(doc)}
	}
	return Result{Text: FormatBundle(doc, tool.Resource)}
}

// validateArguments checks the supplied arguments against the tool's
// declaration and returns them as plain strings.
func validateArguments(tool Tool, args map[string]any) (map[string]string, error) {
	declared := make(map[string]Argument, len(tool.Arguments))
	for _, a := range tool.Arguments {
		declared[a.Name] = a
	}

	for name := range args {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("unexpected argument %q", name)
		}
	}

	values := make(map[string]string, len(args))
	for _, a := range tool.Arguments {
		raw, present := args[a.Name]
		if !present {
			if a.Required {
				return nil, fmt.Errorf("missing required argument %q", a.Name)
			}
			continue
		}

		value, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a string", a.Name)
		}
		if a.Required && value == "" {
			return nil, fmt.Errorf("missing required argument %q", a.Name)
		}
		if value == "" {
			continue
		}

		if len(a.Enum) > 0 && !slices.Contains(a.Enum, value) {
			return nil, fmt.Errorf("argument %q must be one of: %s", a.Name, strings.Join(a.Enum, ", "))
		}

		values[a.Name] = value
	}

	return values, nil
}

// buildRequest maps validated arguments onto the resource path and search
// parameters per the tool declaration.
func buildRequest(tool Tool, values map[string]string) (string, url.Values) {
	path := tool.Resource
	params := url.Values{}

	for _, a := range tool.Arguments {
		value, ok := values[a.Name]
		if !ok {
			continue
		}
		if a.Path {
			path = tool.Resource + "/" + value
		} else {
			params.Set(a.Param, value)
		}
	}

	return path, params
}
