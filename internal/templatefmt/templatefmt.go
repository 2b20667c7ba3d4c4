package templatefmt

import (
	"encoding/json"
	"strings"
	"text/template"
)

// FuncMap returns shared enrichment template helpers.
// Params: none.
// Returns: deterministic helper map used by registry build and rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"json":  MarshalJSON,
	}
}

// ParseEnrichmentTemplate parses one enrichment template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseEnrichmentTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// MarshalJSON renders a value into a JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
