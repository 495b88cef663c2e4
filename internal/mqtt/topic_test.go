package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter  string
		topic   string
		matches bool
	}{
		{"test/select", "test/select", true},
		{"test/select", "test/other", false},
		{"test/select", "test/select/set", false},
		{"test/+", "test/select", true},
		{"test/+", "test/select/set", false},
		{"+/select", "test/select", true},
		{"homeassistant/select/+/config", "homeassistant/select/bla/config", true},
		{"homeassistant/select/+/config", "homeassistant/sensor/bla/config", false},
		{"homeassistant/select/+/config", "homeassistant/select/bla/state", false},
		{"test/#", "test/select", true},
		{"test/#", "test/select/set", true},
		{"test/#", "other/select", false},
		{"#", "anything/at/all", true},
		{"test/#/select", "test/a/select", false},
		{"test", "test/select", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" vs "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.matches, TopicMatches(tt.filter, tt.topic))
		})
	}
}
