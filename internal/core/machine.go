package core

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WildcardEntity subscribes a handler to every entity's state changes.
const WildcardEntity = "*"

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// Machine is the in-memory entity state machine. Platforms write states into
// it and consumers (API, restore cache, other platforms) subscribe to changes.
type Machine struct {
	logger      *zap.Logger
	states      map[string]*State
	statesMu    sync.RWMutex
	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
}

// NewMachine creates an empty state machine
func NewMachine(logger *zap.Logger) *Machine {
	return &Machine{
		logger:      logger,
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
	}
}

// Set stores a new state for an entity and notifies subscribers.
// last_updated is always bumped; last_changed only moves when the state
// string itself changed, matching how consumers distinguish refreshes
// from transitions.
func (m *Machine) Set(entityID, state string, attributes map[string]interface{}) {
	if attributes == nil {
		attributes = make(map[string]interface{})
	} else {
		copied := make(map[string]interface{}, len(attributes))
		for k, v := range attributes {
			copied[k] = v
		}
		attributes = copied
	}

	now := time.Now()

	m.statesMu.Lock()
	oldState := m.states[entityID]

	newState := &State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
		Context:     &Context{ID: uuid.NewString()},
	}
	if oldState != nil && oldState.State == state {
		newState.LastChanged = oldState.LastChanged
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.logger.Debug("State set",
		zap.String("entity_id", entityID),
		zap.String("state", state))

	m.notifySubscribers(StateChangedEvent{
		EntityID: entityID,
		OldState: oldState,
		NewState: newState,
	})
}

// Get retrieves the state of an entity, or nil if it does not exist
func (m *Machine) Get(entityID string) *State {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	return m.states[entityID]
}

// All returns all entity states sorted by entity ID
func (m *Machine) All() []*State {
	m.statesMu.RLock()
	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	m.statesMu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].EntityID < states[j].EntityID
	})
	return states
}

// Remove deletes an entity's state. Subscribers receive a final event with a
// nil new state.
func (m *Machine) Remove(entityID string) {
	m.statesMu.Lock()
	oldState, ok := m.states[entityID]
	if ok {
		delete(m.states, entityID)
	}
	m.statesMu.Unlock()

	if !ok {
		return
	}

	m.logger.Debug("State removed", zap.String("entity_id", entityID))

	m.notifySubscribers(StateChangedEvent{
		EntityID: entityID,
		OldState: oldState,
		NewState: nil,
	})
}

// Subscribe registers a handler for state changes of a specific entity, or of
// all entities when entityID is WildcardEntity.
func (m *Machine) Subscribe(entityID string, handler StateChangeHandler) Subscription {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &machineSubscription{
		entityID: entityID,
		subID:    subID,
		machine:  m,
	}
}

// notifySubscribers delivers an event to entity-specific and wildcard handlers
func (m *Machine) notifySubscribers(event StateChangedEvent) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[event.EntityID]...)
	entries = append(entries, m.subscribers[WildcardEntity]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(event)
	}
}

// unsubscribe removes a specific subscription by entity ID and subscription ID
func (m *Machine) unsubscribe(entityID string, subID int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.subscribers[entityID]
	if !ok {
		return
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			m.subscribers[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.subscribers[entityID]) == 0 {
				delete(m.subscribers, entityID)
			}
			break
		}
	}
}

// machineSubscription implements Subscription
type machineSubscription struct {
	entityID string
	subID    int
	machine  *Machine
}

func (s *machineSubscription) Unsubscribe() {
	s.machine.unsubscribe(s.entityID, s.subID)
}

// Slugify converts a friendly name into an entity object ID.
// e.g. "Test Select" -> "test_select"
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// EntityID builds a full entity ID from a domain and a friendly name
func EntityID(domain, name string) string {
	return domain + "." + Slugify(name)
}
