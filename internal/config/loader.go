// Package config loads the bridge's YAML configuration
package config

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"entitybridge/internal/platforms/mqttselect"
	"entitybridge/internal/platforms/restbinary"
)

// Defaults applied when the config file leaves a field out
const (
	DefaultAPIPort         = 8123
	DefaultMQTTClientID    = "entitybridge"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultRestorePath     = "restore_state.json"
)

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	URL             string `yaml:"url"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Discovery       *bool  `yaml:"discovery"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// DiscoveryEnabled reports whether the MQTT discovery watcher should run.
// Discovery is on unless the config says otherwise.
func (c *MQTTConfig) DiscoveryEnabled() bool {
	return c.Discovery == nil || *c.Discovery
}

// APIConfig holds the HTTP API settings
type APIConfig struct {
	Port int `yaml:"port"`
}

// Config represents the full bridge configuration file
type Config struct {
	MQTT             MQTTConfig          `yaml:"mqtt"`
	API              APIConfig           `yaml:"api"`
	RestorePath      string              `yaml:"restore_path"`
	Select           []mqttselect.Config `yaml:"select"`
	RestBinarySensor []restbinary.Config `yaml:"rest_binary_sensor"`
}

// Loader reads and re-reads the configuration file
type Loader struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	cfg *Config
}

// NewLoader creates a loader for the given config file path
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger,
	}
}

// Load reads and validates the configuration file
func (l *Loader) Load() error {
	l.logger.Info("Loading configuration", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, l.logger)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	l.logger.Info("Configuration loaded",
		zap.Int("selects", len(cfg.Select)),
		zap.Int("rest_binary_sensors", len(cfg.RestBinarySensor)))
	return nil
}

// Get returns the most recently loaded configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// RestBinarySensors re-reads the config file and returns the REST binary
// sensor section, for the rest.reload service.
func (l *Loader) RestBinarySensors() ([]restbinary.Config, error) {
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l.Get().RestBinarySensor, nil
}

// Parse decodes and validates raw YAML config data. Structural problems
// (bad YAML, missing broker URL) are errors; an invalid platform entry is
// logged and dropped so its valid siblings still load.
func Parse(data []byte, logger *zap.Logger) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MQTT.URL == "" {
		return nil, fmt.Errorf("mqtt.url is required")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}
	if cfg.RestorePath == "" {
		cfg.RestorePath = DefaultRestorePath
	}

	selects := cfg.Select[:0]
	for i, entry := range cfg.Select {
		if err := entry.Validate(); err != nil {
			logger.Warn("Skipping invalid select entry",
				zap.Int("index", i),
				zap.String("name", entry.Name),
				zap.Error(err))
			continue
		}
		selects = append(selects, entry)
	}
	cfg.Select = selects

	sensors := cfg.RestBinarySensor[:0]
	for i, entry := range cfg.RestBinarySensor {
		if err := entry.Validate(); err != nil {
			logger.Warn("Skipping invalid rest_binary_sensor entry",
				zap.Int("index", i),
				zap.String("name", entry.Name),
				zap.Error(err))
			continue
		}
		sensors = append(sensors, entry)
	}
	cfg.RestBinarySensor = sensors

	return &cfg, nil
}
