// Package restbinary implements the REST binary sensor platform: a polled
// HTTP endpoint mapped onto an on/off entity state.
package restbinary

import (
	"fmt"
	"net/http"
	"time"
)

// Domain is the entity domain this platform manages
const Domain = "binary_sensor"

// Supported authentication modes
const (
	AuthNone   = ""
	AuthBasic  = "basic"
	AuthDigest = "digest"
)

// Defaults applied by withDefaults
const (
	DefaultName         = "REST Binary Sensor"
	DefaultMethod       = http.MethodGet
	DefaultTimeout      = 10 * time.Second
	DefaultScanInterval = 30 * time.Second
)

// Config declares a single REST binary sensor
type Config struct {
	Resource         string            `yaml:"resource"`
	ResourceTemplate string            `yaml:"resource_template"`
	Method           string            `yaml:"method"`
	Payload          string            `yaml:"payload"`
	Name             string            `yaml:"name"`
	UniqueID         string            `yaml:"unique_id"`
	DeviceClass      string            `yaml:"device_class"`
	ValueTemplate    string            `yaml:"value_template"`
	Headers          map[string]string `yaml:"headers"`
	Params           map[string]string `yaml:"params"`
	Authentication   string            `yaml:"authentication"`
	Username         string            `yaml:"username"`
	Password         string            `yaml:"password"`
	VerifySSL        *bool             `yaml:"verify_ssl"`
	TimeoutSeconds   int               `yaml:"timeout"`
	ScanIntervalSecs int               `yaml:"scan_interval"`
}

// Validate checks the schema constraints
func (c *Config) Validate() error {
	if c.Resource == "" && c.ResourceTemplate == "" {
		return fmt.Errorf("one of resource or resource_template is required")
	}
	if c.Resource != "" && c.ResourceTemplate != "" {
		return fmt.Errorf("resource and resource_template are mutually exclusive")
	}
	switch c.Method {
	case "", http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("method must be GET or POST, got %q", c.Method)
	}
	switch c.Authentication {
	case AuthNone, AuthBasic, AuthDigest:
	default:
		return fmt.Errorf("authentication must be basic or digest, got %q", c.Authentication)
	}
	return nil
}

// withDefaults returns a copy with defaults applied
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Method == "" {
		c.Method = DefaultMethod
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(DefaultTimeout / time.Second)
	}
	if c.ScanIntervalSecs <= 0 {
		c.ScanIntervalSecs = int(DefaultScanInterval / time.Second)
	}
	return c
}

// Timeout returns the per-request timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ScanInterval returns the polling interval
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSecs) * time.Second
}

// SkipTLSVerify reports whether certificate verification is disabled
func (c *Config) SkipTLSVerify() bool {
	return c.VerifySSL != nil && !*c.VerifySSL
}
