// Package mqtt wraps the broker connection behind a small client interface so
// platforms can subscribe and publish without caring about the underlying
// library, and so tests can swap in a recording mock.
package mqtt

// MessageHandler is called for each message arriving on a subscribed filter
type MessageHandler func(topic string, payload []byte)

// ConnectionHandler is called when the broker connection comes up or drops
type ConnectionHandler func(connected bool)

// Subscription represents an active topic subscription
type Subscription interface {
	Unsubscribe() error
}

// Client defines the broker operations platforms rely on
type Client interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Publish(topic, payload string, qos byte, retain bool) error
	Subscribe(filter string, qos byte, handler MessageHandler) (Subscription, error)
	OnConnectionChange(handler ConnectionHandler)
}

// Options configures the broker connection
type Options struct {
	URL      string
	ClientID string
	Username string
	Password string
}

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	qos     byte
	handler MessageHandler
}
