package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderValue_Raw(t *testing.T) {
	tmpl, err := New("{{ .value }}")
	require.NoError(t, err)

	out, err := tmpl.RenderValue("milk")
	require.NoError(t, err)
	assert.Equal(t, "milk", out)
}

func TestRenderValue_JSONField(t *testing.T) {
	tmpl, err := New("{{ .value_json.val }}")
	require.NoError(t, err)

	out, err := tmpl.RenderValue(`{"val":"milk"}`)
	require.NoError(t, err)
	assert.Equal(t, "milk", out)

	out, err = tmpl.RenderValue(`{"val":"beer"}`)
	require.NoError(t, err)
	assert.Equal(t, "beer", out)
}

func TestRenderValue_NullField(t *testing.T) {
	tmpl, err := New("{{ .value_json.val }}")
	require.NoError(t, err)

	out, err := tmpl.RenderValue(`{"val": null}`)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRenderValue_MissingField(t *testing.T) {
	tmpl, err := New("{{ .value_json.key }}")
	require.NoError(t, err)

	out, err := tmpl.RenderValue(`{}`)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRenderValue_NestedField(t *testing.T) {
	tmpl, err := New("{{ .value_json.sensor.state }}")
	require.NoError(t, err)

	out, err := tmpl.RenderValue(`{"sensor":{"state":"open"}}`)
	require.NoError(t, err)
	assert.Equal(t, "open", out)
}

func TestRenderValue_NonJSONPayload(t *testing.T) {
	tmpl, err := New("{{ .value }}")
	require.NoError(t, err)

	out, err := tmpl.RenderValue("plainly not json")
	require.NoError(t, err)
	assert.Equal(t, "plainly not json", out)
}

func TestRenderCommand(t *testing.T) {
	tmpl, err := New(`{"option": "{{ .value }}"}`)
	require.NoError(t, err)

	out, err := tmpl.RenderCommand("beer")
	require.NoError(t, err)
	assert.Equal(t, `{"option": "beer"}`, out)
}

func TestStaticTemplate(t *testing.T) {
	tmpl, err := New("application/json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", tmpl.Raw())

	out, err := tmpl.RenderValue(`{"ignored": true}`)
	require.NoError(t, err)
	assert.Equal(t, "application/json", out)
}

func TestNew_InvalidTemplate(t *testing.T) {
	_, err := New("{{ .value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRender_CustomData(t *testing.T) {
	tmpl, err := New("{{ .host }}/status")
	require.NoError(t, err)

	out, err := tmpl.Render(map[string]interface{}{"host": "http://localhost"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/status", out)
}
