package core

import (
	"time"
)

// Well-known state strings shared by all platforms.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
	StateOn          = "on"
	StateOff         = "off"
)

// State represents the current state of an entity
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
	Context     *Context               `json:"context,omitempty"`
}

// Context identifies the origin of a state change
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// StateChangedEvent is delivered to subscribers when an entity state changes
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// StateChangeHandler is called when a state change event is fired
type StateChangeHandler func(event StateChangedEvent)

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}
