// Package mqttselect implements the MQTT select platform: an enumerated
// entity whose state follows a broker topic and whose commands are published
// back to one.
package mqttselect

import (
	"fmt"
)

// Domain is the entity domain this platform manages
const Domain = "select"

// Default availability payloads
const (
	DefaultPayloadAvailable    = "online"
	DefaultPayloadNotAvailable = "offline"
)

// Config declares a single MQTT select entity. The same schema is accepted
// from the YAML bridge configuration and from JSON discovery payloads.
type Config struct {
	Name         string `yaml:"name" json:"name"`
	CommandTopic string `yaml:"command_topic" json:"command_topic"`
	// Options is a pointer so a present-but-empty list can be told apart
	// from a missing key; the key is required.
	Options             *[]string `yaml:"options" json:"options"`
	StateTopic          string    `yaml:"state_topic" json:"state_topic,omitempty"`
	ValueTemplate       string    `yaml:"value_template" json:"value_template,omitempty"`
	CommandTemplate     string    `yaml:"command_template" json:"command_template,omitempty"`
	UniqueID            string    `yaml:"unique_id" json:"unique_id,omitempty"`
	QoS                 byte      `yaml:"qos" json:"qos,omitempty"`
	Retain              bool      `yaml:"retain" json:"retain,omitempty"`
	AvailabilityTopic   string    `yaml:"availability_topic" json:"availability_topic,omitempty"`
	PayloadAvailable    string    `yaml:"payload_available" json:"payload_available,omitempty"`
	PayloadNotAvailable string    `yaml:"payload_not_available" json:"payload_not_available,omitempty"`
	JSONAttributesTopic string    `yaml:"json_attributes_topic" json:"json_attributes_topic,omitempty"`
}

// Validate checks the required keys
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.CommandTopic == "" {
		return fmt.Errorf("command_topic is required")
	}
	if c.Options == nil {
		return fmt.Errorf("options is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	return nil
}

// withDefaults returns a copy with the availability payload defaults applied
func (c Config) withDefaults() Config {
	if c.PayloadAvailable == "" {
		c.PayloadAvailable = DefaultPayloadAvailable
	}
	if c.PayloadNotAvailable == "" {
		c.PayloadNotAvailable = DefaultPayloadNotAvailable
	}
	return c
}

// OptionList returns the configured options, never nil
func (c *Config) OptionList() []string {
	if c.Options == nil {
		return []string{}
	}
	return *c.Options
}

// Optimistic reports whether the entity has no state topic and must assume
// its own state after a command.
func (c *Config) Optimistic() bool {
	return c.StateTopic == ""
}
