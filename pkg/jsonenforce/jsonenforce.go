// Package jsonenforce turns model output into JSON objects: strict
// parse first, then a bounded repair, then a structured sentinel so a
// malformed response never aborts a run.
package jsonenforce

import (
	"encoding/json"
	"strings"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// Schema is the minimal contract a step can declare for its output:
// an object with required top-level keys.
type Schema struct {
	Type     string   `yaml:"type,omitempty" json:"type,omitempty"`
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
}

// Parse attempts a strict JSON object parse, then a repaired one.
func Parse(text string) (map[string]any, bool) {
	if obj, ok := ParseStrict(text); ok {
		return obj, true
	}
	return ParseStrict(Repair(text))
}

// ParseStrict parses without any repair pass.
func ParseStrict(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// Repair strips markdown code fences and trims to the outermost
// braces. It never invents content, only removes wrapping.
func Repair(text string) string {
	text = stripFences(strings.TrimSpace(text))
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	// Drop the opening fence line (``` or ```json) and a trailing one.
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Validate checks an object against the declared schema.
func Validate(obj map[string]any, schema *Schema) error {
	if schema == nil {
		return nil
	}
	if schema.Type != "" && schema.Type != "object" {
		return errdefs.Config("json schema type %q is not supported, only object", schema.Type)
	}
	var missing []string
	for _, key := range schema.Required {
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errdefs.Processing("missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Sentinel is the record emitted when output could not be coerced to
// valid JSON. raw keeps the original text for inspection.
func Sentinel(raw string, schemaErr error) map[string]any {
	out := map[string]any{
		"parse_error": true,
		"raw_text":    raw,
	}
	if schemaErr != nil {
		out["schema_error"] = schemaErr.Error()
	}
	return out
}

// Enforce parses and validates in one step. The bool reports whether
// the result is real output rather than a sentinel.
func Enforce(text string, schema *Schema) (map[string]any, bool) {
	obj, ok := Parse(text)
	if !ok {
		return Sentinel(text, nil), false
	}
	if err := Validate(obj, schema); err != nil {
		return Sentinel(text, err), false
	}
	return obj, true
}
