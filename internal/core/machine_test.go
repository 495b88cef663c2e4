package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMachine_SetAndGet(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	machine.Set("select.kitchen", "milk", map[string]interface{}{
		"options": []string{"milk", "beer"},
	})

	state := machine.Get("select.kitchen")
	require.NotNil(t, state)
	assert.Equal(t, "select.kitchen", state.EntityID)
	assert.Equal(t, "milk", state.State)
	assert.Equal(t, []string{"milk", "beer"}, state.Attributes["options"])
	require.NotNil(t, state.Context)
	assert.NotEmpty(t, state.Context.ID)
}

func TestMachine_GetUnknownEntity(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	assert.Nil(t, machine.Get("select.missing"))
}

func TestMachine_LastChangedOnlyMovesOnTransition(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	machine.Set("binary_sensor.door", "off", nil)
	first := machine.Get("binary_sensor.door")

	time.Sleep(5 * time.Millisecond)
	machine.Set("binary_sensor.door", "off", nil)
	refreshed := machine.Get("binary_sensor.door")

	assert.Equal(t, first.LastChanged, refreshed.LastChanged)
	assert.True(t, refreshed.LastUpdated.After(first.LastUpdated))

	machine.Set("binary_sensor.door", "on", nil)
	changed := machine.Get("binary_sensor.door")
	assert.True(t, changed.LastChanged.After(first.LastChanged))
}

func TestMachine_Subscribe(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	var events []StateChangedEvent
	machine.Subscribe("select.kitchen", func(event StateChangedEvent) {
		events = append(events, event)
	})

	machine.Set("select.kitchen", "milk", nil)
	machine.Set("select.other", "beer", nil)

	require.Len(t, events, 1)
	assert.Nil(t, events[0].OldState)
	assert.Equal(t, "milk", events[0].NewState.State)

	machine.Set("select.kitchen", "beer", nil)
	require.Len(t, events, 2)
	assert.Equal(t, "milk", events[1].OldState.State)
	assert.Equal(t, "beer", events[1].NewState.State)
}

func TestMachine_WildcardSubscribe(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	var entityIDs []string
	machine.Subscribe(WildcardEntity, func(event StateChangedEvent) {
		entityIDs = append(entityIDs, event.EntityID)
	})

	machine.Set("select.a", "milk", nil)
	machine.Set("binary_sensor.b", "on", nil)

	assert.Equal(t, []string{"select.a", "binary_sensor.b"}, entityIDs)
}

func TestMachine_Unsubscribe(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	count := 0
	sub := machine.Subscribe("select.kitchen", func(event StateChangedEvent) {
		count++
	})

	machine.Set("select.kitchen", "milk", nil)
	sub.Unsubscribe()
	machine.Set("select.kitchen", "beer", nil)

	assert.Equal(t, 1, count)
}

func TestMachine_Remove(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	var last StateChangedEvent
	machine.Subscribe("select.kitchen", func(event StateChangedEvent) {
		last = event
	})

	machine.Set("select.kitchen", "milk", nil)
	machine.Remove("select.kitchen")

	assert.Nil(t, machine.Get("select.kitchen"))
	assert.Nil(t, last.NewState)
	require.NotNil(t, last.OldState)
	assert.Equal(t, "milk", last.OldState.State)

	// Removing a missing entity fires nothing
	last = StateChangedEvent{EntityID: "sentinel"}
	machine.Remove("select.kitchen")
	assert.Equal(t, "sentinel", last.EntityID)
}

func TestMachine_All(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	machine.Set("select.b", "milk", nil)
	machine.Set("binary_sensor.a", "on", nil)

	states := machine.All()
	require.Len(t, states, 2)
	assert.Equal(t, "binary_sensor.a", states[0].EntityID)
	assert.Equal(t, "select.b", states[1].EntityID)
}

func TestMachine_AttributesAreCopied(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	machine := NewMachine(logger)

	attrs := map[string]interface{}{"device_class": "plug"}
	machine.Set("binary_sensor.plug", "off", attrs)

	attrs["device_class"] = "door"
	assert.Equal(t, "plug", machine.Get("binary_sensor.plug").Attributes["device_class"])
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"Test Select", "test_select"},
		{"REST Binary Sensor", "rest_binary_sensor"},
		{"already_slugged", "already_slugged"},
		{"Weird--Name!! 2", "weird_name_2"},
		{"Trailing ", "trailing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.name))
		})
	}
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "select.test_select", EntityID("select", "Test Select"))
}
