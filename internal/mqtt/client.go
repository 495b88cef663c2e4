package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const tokenTimeout = 10 * time.Second

// Broker implements Client on top of the paho MQTT client. It keeps its own
// subscription table so that multiple handlers can share one broker-side
// subscription per filter and so that subscriptions survive reconnects.
type Broker struct {
	logger       *zap.Logger
	client       paho.Client
	subscribers  map[string][]subscriberEntry
	subsMu       sync.RWMutex
	nextSubID    int
	nextSubIDMu  sync.Mutex
	connHandlers []ConnectionHandler
	connHandMu   sync.RWMutex
}

// NewBroker creates a broker client for the given connection options
func NewBroker(opts Options, logger *zap.Logger) *Broker {
	b := &Broker{
		logger:      logger,
		subscribers: make(map[string][]subscriberEntry),
	}

	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.URL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(b.handleConnect).
		SetConnectionLostHandler(b.handleConnectionLost)

	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}

	b.client = paho.NewClient(pahoOpts)
	return b
}

// Connect establishes the broker connection
func (b *Broker) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("timeout connecting to broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection
func (b *Broker) Disconnect() {
	b.client.Disconnect(250)
	b.logger.Info("Disconnected from MQTT broker")
}

// IsConnected returns true when the broker connection is up
func (b *Broker) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

// Publish sends a payload to a topic and waits for the broker to accept it
func (b *Broker) Publish(topic, payload string, qos byte, retain bool) error {
	token := b.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic filter. The broker-side
// subscription is created on first use and shared by later subscribers of
// the same filter.
func (b *Broker) Subscribe(filter string, qos byte, handler MessageHandler) (Subscription, error) {
	b.nextSubIDMu.Lock()
	subID := b.nextSubID
	b.nextSubID++
	b.nextSubIDMu.Unlock()

	b.subsMu.Lock()
	existing := len(b.subscribers[filter])
	b.subscribers[filter] = append(b.subscribers[filter], subscriberEntry{
		subID:   subID,
		qos:     qos,
		handler: handler,
	})
	b.subsMu.Unlock()

	if existing == 0 && b.IsConnected() {
		if err := b.subscribeFilter(filter, qos); err != nil {
			b.unsubscribe(filter, subID)
			return nil, err
		}
	}

	return &brokerSubscription{
		filter: filter,
		subID:  subID,
		broker: b,
	}, nil
}

// OnConnectionChange registers a handler for connection state transitions
func (b *Broker) OnConnectionChange(handler ConnectionHandler) {
	b.connHandMu.Lock()
	b.connHandlers = append(b.connHandlers, handler)
	b.connHandMu.Unlock()
}

// subscribeFilter creates the broker-side subscription for a filter
func (b *Broker) subscribeFilter(filter string, qos byte) error {
	token := b.client.Subscribe(filter, qos, func(_ paho.Client, msg paho.Message) {
		b.dispatch(filter, msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("timeout subscribing to %s", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}

	b.logger.Debug("Subscribed", zap.String("filter", filter))
	return nil
}

// dispatch fans a message out to every handler registered on its filter
func (b *Broker) dispatch(filter, topic string, payload []byte) {
	b.subsMu.RLock()
	entries := append([]subscriberEntry(nil), b.subscribers[filter]...)
	b.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(topic, payload)
	}
}

// handleConnect restores subscriptions after (re)connecting
func (b *Broker) handleConnect(paho.Client) {
	b.logger.Info("Connected to MQTT broker")

	b.subsMu.RLock()
	filters := make(map[string]byte, len(b.subscribers))
	for filter, entries := range b.subscribers {
		var qos byte
		for _, entry := range entries {
			if entry.qos > qos {
				qos = entry.qos
			}
		}
		filters[filter] = qos
	}
	b.subsMu.RUnlock()

	for filter, qos := range filters {
		if err := b.subscribeFilter(filter, qos); err != nil {
			b.logger.Error("Failed to restore subscription",
				zap.String("filter", filter),
				zap.Error(err))
		}
	}

	b.notifyConnectionChange(true)
}

// handleConnectionLost tells listeners the connection dropped; paho handles
// the reconnect itself.
func (b *Broker) handleConnectionLost(_ paho.Client, err error) {
	b.logger.Warn("Connection to MQTT broker lost", zap.Error(err))
	b.notifyConnectionChange(false)
}

func (b *Broker) notifyConnectionChange(connected bool) {
	b.connHandMu.RLock()
	handlers := append([]ConnectionHandler(nil), b.connHandlers...)
	b.connHandMu.RUnlock()

	for _, handler := range handlers {
		handler(connected)
	}
}

// unsubscribe removes a handler and tears down the broker-side subscription
// when the last handler for a filter goes away.
func (b *Broker) unsubscribe(filter string, subID int) error {
	b.subsMu.Lock()
	subscribers, ok := b.subscribers[filter]
	if !ok {
		b.subsMu.Unlock()
		return nil
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			b.subscribers[filter] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	remaining := len(b.subscribers[filter])
	if remaining == 0 {
		delete(b.subscribers, filter)
	}
	b.subsMu.Unlock()

	if remaining == 0 && b.IsConnected() {
		token := b.client.Unsubscribe(filter)
		if !token.WaitTimeout(tokenTimeout) {
			return fmt.Errorf("timeout unsubscribing from %s", filter)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", filter, err)
		}
	}

	return nil
}

// brokerSubscription implements Subscription
type brokerSubscription struct {
	filter string
	subID  int
	broker *Broker
}

func (s *brokerSubscription) Unsubscribe() error {
	return s.broker.unsubscribe(s.filter, s.subID)
}
