package mqtt

import (
	"fmt"
	"sync"
)

// MockClient implements Client for testing. It records every publish and
// routes simulated messages through real topic filter matching.
type MockClient struct {
	connected    bool
	connMu       sync.RWMutex
	subscribers  map[string][]subscriberEntry
	subsMu       sync.RWMutex
	nextSubID    int
	nextSubIDMu  sync.Mutex
	published    []PublishedMessage
	publishedMu  sync.Mutex
	connHandlers []ConnectionHandler
	connHandMu   sync.RWMutex
}

// PublishedMessage records a publish for assertions
type PublishedMessage struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

// mockSubscription implements Subscription for MockClient
type mockSubscription struct {
	filter string
	subID  int
	mock   *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	s.mock.unsubscribe(s.filter, s.subID)
	return nil
}

// NewMockClient creates a new mock broker client
func NewMockClient() *MockClient {
	return &MockClient{
		subscribers: make(map[string][]subscriberEntry),
	}
}

// Connect simulates connecting to the broker
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	if m.connected {
		m.connMu.Unlock()
		return fmt.Errorf("already connected")
	}
	m.connected = true
	m.connMu.Unlock()

	m.notifyConnectionChange(true)
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()
}

// IsConnected returns the simulated connection state
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// Publish records a publish
func (m *MockClient) Publish(topic, payload string, qos byte, retain bool) error {
	m.connMu.RLock()
	connected := m.connected
	m.connMu.RUnlock()

	if !connected {
		return fmt.Errorf("not connected")
	}

	m.publishedMu.Lock()
	m.published = append(m.published, PublishedMessage{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	m.publishedMu.Unlock()
	return nil
}

// Subscribe registers a handler for a topic filter
func (m *MockClient) Subscribe(filter string, qos byte, handler MessageHandler) (Subscription, error) {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.subscribers[filter] = append(m.subscribers[filter], subscriberEntry{
		subID:   subID,
		qos:     qos,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		filter: filter,
		subID:  subID,
		mock:   m,
	}, nil
}

// OnConnectionChange registers a connection state handler
func (m *MockClient) OnConnectionChange(handler ConnectionHandler) {
	m.connHandMu.Lock()
	m.connHandlers = append(m.connHandlers, handler)
	m.connHandMu.Unlock()
}

// SimulateMessage delivers a message to every subscription whose filter
// matches the topic.
func (m *MockClient) SimulateMessage(topic, payload string) {
	m.subsMu.RLock()
	var handlers []MessageHandler
	for filter, entries := range m.subscribers {
		if TopicMatches(filter, topic) {
			for _, entry := range entries {
				handlers = append(handlers, entry.handler)
			}
		}
	}
	m.subsMu.RUnlock()

	for _, handler := range handlers {
		handler(topic, []byte(payload))
	}
}

// SimulateDisconnect drops the simulated connection and notifies listeners
func (m *MockClient) SimulateDisconnect() {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.notifyConnectionChange(false)
}

// SimulateReconnect restores the simulated connection and notifies listeners
func (m *MockClient) SimulateReconnect() {
	m.connMu.Lock()
	m.connected = true
	m.connMu.Unlock()

	m.notifyConnectionChange(true)
}

// Published returns all recorded publishes
func (m *MockClient) Published() []PublishedMessage {
	m.publishedMu.Lock()
	defer m.publishedMu.Unlock()

	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the publishes recorded for a single topic
func (m *MockClient) PublishedTo(topic string) []PublishedMessage {
	m.publishedMu.Lock()
	defer m.publishedMu.Unlock()

	var out []PublishedMessage
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// ClearPublished resets the publish history
func (m *MockClient) ClearPublished() {
	m.publishedMu.Lock()
	defer m.publishedMu.Unlock()
	m.published = nil
}

// SubscriptionCount returns the number of active handlers for a filter
func (m *MockClient) SubscriptionCount(filter string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subscribers[filter])
}

func (m *MockClient) notifyConnectionChange(connected bool) {
	m.connHandMu.RLock()
	handlers := append([]ConnectionHandler(nil), m.connHandlers...)
	m.connHandMu.RUnlock()

	for _, handler := range handlers {
		handler(connected)
	}
}

func (m *MockClient) unsubscribe(filter string, subID int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.subscribers[filter]
	if !ok {
		return
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			m.subscribers[filter] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.subscribers[filter]) == 0 {
				delete(m.subscribers, filter)
			}
			break
		}
	}
}
