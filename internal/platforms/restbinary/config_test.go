package restbinary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := Config{Resource: "http://localhost/state"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("resource template only", func(t *testing.T) {
		cfg := Config{ResourceTemplate: "http://localhost/{{ .now.Year }}"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing resource", func(t *testing.T) {
		cfg := Config{Name: "Test"}
		assert.ErrorContains(t, cfg.Validate(), "resource")
	})

	t.Run("both resource keys", func(t *testing.T) {
		cfg := Config{
			Resource:         "http://localhost/a",
			ResourceTemplate: "http://localhost/b",
		}
		assert.ErrorContains(t, cfg.Validate(), "mutually exclusive")
	})

	t.Run("bad method", func(t *testing.T) {
		cfg := Config{Resource: "http://localhost", Method: "PUT"}
		assert.ErrorContains(t, cfg.Validate(), "method")
	})

	t.Run("bad authentication", func(t *testing.T) {
		cfg := Config{Resource: "http://localhost", Authentication: "bearer"}
		assert.ErrorContains(t, cfg.Validate(), "authentication")
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Resource: "http://localhost"}.withDefaults()

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, "GET", cfg.Method)
	assert.Equal(t, 10*time.Second, cfg.Timeout())
	assert.Equal(t, 30*time.Second, cfg.ScanInterval())
}

func TestConfigSkipTLSVerify(t *testing.T) {
	cfg := Config{Resource: "http://localhost"}
	assert.False(t, cfg.SkipTLSVerify())

	verify := true
	cfg.VerifySSL = &verify
	assert.False(t, cfg.SkipTLSVerify())

	verify = false
	assert.True(t, cfg.SkipTLSVerify())
}

func TestConfigYAML(t *testing.T) {
	raw := `
resource: http://localhost/state
method: POST
payload: '{"refresh": true}'
name: Door
device_class: opening
value_template: "{{ .value_json.state }}"
headers:
  Authorization: token abc
authentication: basic
username: admin
password: secret
verify_ssl: false
timeout: 5
scan_interval: 60
`

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Door", cfg.Name)
	assert.Equal(t, "POST", cfg.Method)
	assert.Equal(t, "opening", cfg.DeviceClass)
	assert.Equal(t, "token abc", cfg.Headers["Authorization"])
	assert.Equal(t, AuthBasic, cfg.Authentication)
	assert.True(t, cfg.SkipTLSVerify())
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, time.Minute, cfg.ScanInterval())
}
