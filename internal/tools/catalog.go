// Package tools exposes the clinical retrieval tool catalog. Each tool is a
// declarative mapping from caller-supplied arguments onto a FHIR read or
// search, defined in an embedded catalog rather than in code.
package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Argument describes a single tool parameter and how it maps onto the
// outbound FHIR request: either into the resource path or as a search
// parameter.
type Argument struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Required    bool     `yaml:"required"`
	Enum        []string `yaml:"enum"`

	// Path routes the value into the resource path (read by ID); Param names
	// the search parameter it becomes. Exactly one is set per argument.
	Path  bool   `yaml:"path"`
	Param string `yaml:"param"`
}

// Tool is one entry in the catalog.
type Tool struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Resource    string     `yaml:"resource"`
	Format      string     `yaml:"format"`
	Arguments   []Argument `yaml:"arguments"`
}

// MarshalJSON renders the tool in the listing shape clients expect: name,
// description and a JSON Schema for its input.
func (t Tool) MarshalJSON() ([]byte, error) {
	properties := make(map[string]any, len(t.Arguments))
	required := []string{}
	for _, a := range t.Arguments {
		prop := map[string]any{
			"type":        "string",
			"description": a.Description,
		}
		if len(a.Enum) > 0 {
			prop["enum"] = a.Enum
		}
		properties[a.Name] = prop
		if a.Required {
			required = append(required, a.Name)
		}
	}

	return json.Marshal(map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"inputSchema": map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	})
}

// Catalog is the parsed tool set, addressable by name and in declaration
// order for listings.
type Catalog struct {
	tools []Tool
	index map[string]Tool
}

// Load parses the embedded catalog. It fails only if the embedded document
// is malformed, so callers treat an error as fatal at startup.
func Load() (Catalog, error) {
	var doc struct {
		Tools []Tool `yaml:"tools"`
	}
	if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
		return Catalog{}, fmt.Errorf("parsing tool catalog: %w", err)
	}

	index := make(map[string]Tool, len(doc.Tools))
	for _, t := range doc.Tools {
		if _, dup := index[t.Name]; dup {
			return Catalog{}, fmt.Errorf("duplicate tool %q in catalog", t.Name)
		}
		index[t.Name] = t
	}

	return Catalog{tools: doc.Tools, index: index}, nil
}

// Tools returns the catalog entries in declaration order.
func (c Catalog) Tools() []Tool {
	return c.tools
}

// Lookup returns the named tool.
func (c Catalog) Lookup(name string) (Tool, bool) {
	t, ok := c.index[name]
	return t, ok
}
