// Package template provides variable substitution for message text, prompts
// and external call configuration.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"
)

// Builder flows write placeholders as {{name}}. They are rewritten to calls
// into the var lookup func before parsing, so a missing variable renders as
// an empty string instead of an execution error.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Render substitutes {{variable}} placeholders in input against the given
// variables mapping. Unknown variables render empty.
func Render(input string, variables map[string]any) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	prepared := placeholderPattern.ReplaceAllString(input, `{{var "$1"}}`)

	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"var": func(name string) string {
				value, ok := variables[name]
				if !ok || value == nil {
					return ""
				}

				return fmt.Sprint(value)
			},
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(prepared)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, variables)
	if err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", input, err)
	}

	return buf.String(), nil
}

// RenderMap renders every value of a string map, for headers and similar
// configuration blocks.
func RenderMap(input map[string]string, variables map[string]any) (map[string]string, error) {
	if len(input) == 0 {
		return nil, nil
	}

	rendered := make(map[string]string, len(input))

	for key, value := range input {
		out, err := Render(value, variables)
		if err != nil {
			return nil, err
		}

		rendered[key] = out
	}

	return rendered, nil
}

// NeedsTemplating checks if a string contains placeholders worth rendering.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}
