// Package template evaluates the small {{ ... }} expressions platform
// configurations use to reshape payloads: value templates for incoming
// bodies, command templates for outgoing ones.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Template is a compiled value or command template
type Template struct {
	raw    string
	tmpl   *template.Template
	static bool
}

// New compiles a template string. Strings without any {{ ... }} directive are
// treated as static and returned verbatim on render, so plain values can be
// configured wherever a template is accepted.
func New(raw string) (*Template, error) {
	if !strings.Contains(raw, "{{") {
		return &Template{raw: raw, static: true}, nil
	}

	tmpl, err := template.New("").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", raw, err)
	}

	return &Template{raw: raw, tmpl: tmpl}, nil
}

// Raw returns the original template string
func (t *Template) Raw() string {
	return t.raw
}

// Render executes the template against arbitrary data
func (t *Template) Render(data map[string]interface{}) (string, error) {
	if t.static {
		return t.raw, nil
	}

	var b strings.Builder
	if err := t.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", t.raw, err)
	}

	// text/template prints missing or nil values as "<no value>"; for payload
	// extraction a JSON null and an absent field must both read as empty.
	return strings.ReplaceAll(b.String(), "<no value>", ""), nil
}

// RenderValue renders an incoming payload. Templates see the raw payload as
// .value and, when the payload is valid JSON, its decoded form as
// .value_json (e.g. {{ .value_json.val }}).
func (t *Template) RenderValue(payload string) (string, error) {
	data := map[string]interface{}{
		"value": payload,
		"now":   time.Now(),
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
		data["value_json"] = decoded
	}

	return t.Render(data)
}

// RenderCommand renders an outgoing value as .value, e.g. the command
// template {"option": "{{ .value }}"}.
func (t *Template) RenderCommand(value string) (string, error) {
	return t.Render(map[string]interface{}{
		"value": value,
		"now":   time.Now(),
	})
}
