package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleConfig = `
mqtt:
  url: tcp://localhost:1883
  username: bridge
  password: secret
api:
  port: 8124
restore_path: /tmp/restore.json
select:
  - name: Test Select
    command_topic: test/select/set
    state_topic: test/select
    options:
      - milk
      - beer
rest_binary_sensor:
  - name: Door
    resource: http://localhost:8080/door
    device_class: opening
    scan_interval: 60
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderLoad(t *testing.T) {
	loader := NewLoader(writeConfig(t, sampleConfig), zaptest.NewLogger(t))
	require.NoError(t, loader.Load())

	cfg := loader.Get()
	require.NotNil(t, cfg)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.URL)
	assert.Equal(t, "bridge", cfg.MQTT.Username)
	assert.Equal(t, 8124, cfg.API.Port)
	assert.Equal(t, "/tmp/restore.json", cfg.RestorePath)

	require.Len(t, cfg.Select, 1)
	assert.Equal(t, "Test Select", cfg.Select[0].Name)
	assert.Equal(t, []string{"milk", "beer"}, cfg.Select[0].OptionList())

	require.Len(t, cfg.RestBinarySensor, 1)
	assert.Equal(t, "Door", cfg.RestBinarySensor[0].Name)
	assert.Equal(t, 60, cfg.RestBinarySensor[0].ScanIntervalSecs)
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), zaptest.NewLogger(t))
	assert.Error(t, loader.Load())
	assert.Nil(t, loader.Get())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("mqtt:\n  url: tcp://localhost:1883\n"), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, DefaultMQTTClientID, cfg.MQTT.ClientID)
	assert.Equal(t, DefaultDiscoveryPrefix, cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
	assert.Equal(t, DefaultRestorePath, cfg.RestorePath)
	assert.True(t, cfg.MQTT.DiscoveryEnabled())
}

func TestParseMissingBrokerURL(t *testing.T) {
	_, err := Parse([]byte("api:\n  port: 8123\n"), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "mqtt.url")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("mqtt: [not a map"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestParseSkipsInvalidSelectEntry(t *testing.T) {
	raw := `
mqtt:
  url: tcp://localhost:1883
select:
  - name: Broken
    command_topic: test/set
`
	cfg, err := Parse([]byte(raw), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.Select)
}

func TestParseSkipsInvalidRestEntry(t *testing.T) {
	raw := `
mqtt:
  url: tcp://localhost:1883
rest_binary_sensor:
  - name: Broken
`
	cfg, err := Parse([]byte(raw), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.RestBinarySensor)
}

func TestParseKeepsValidSiblings(t *testing.T) {
	raw := `
mqtt:
  url: tcp://localhost:1883
select:
  - name: Broken
    command_topic: test/set
  - name: Good Select
    command_topic: good/set
    options:
      - a
      - b
rest_binary_sensor:
  - name: Broken Sensor
  - name: Good Sensor
    resource: http://localhost:8080/state
`
	cfg, err := Parse([]byte(raw), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Len(t, cfg.Select, 1)
	assert.Equal(t, "Good Select", cfg.Select[0].Name)

	require.Len(t, cfg.RestBinarySensor, 1)
	assert.Equal(t, "Good Sensor", cfg.RestBinarySensor[0].Name)
}

func TestParseDiscoveryDisabled(t *testing.T) {
	raw := `
mqtt:
  url: tcp://localhost:1883
  discovery: false
  discovery_prefix: custom
`
	cfg, err := Parse([]byte(raw), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, cfg.MQTT.DiscoveryEnabled())
	assert.Equal(t, "custom", cfg.MQTT.DiscoveryPrefix)
}

func TestLoaderReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	loader := NewLoader(path, zaptest.NewLogger(t))
	require.NoError(t, loader.Load())

	updated := `
mqtt:
  url: tcp://localhost:1883
rest_binary_sensor:
  - name: Window
    resource: http://localhost:8080/window
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	sensors, err := loader.RestBinarySensors()
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, "Window", sensors[0].Name)
}
