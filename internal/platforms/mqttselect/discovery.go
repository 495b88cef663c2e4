package mqttselect

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"entitybridge/internal/mqtt"
)

// DefaultDiscoveryPrefix is the topic prefix most devices announce under
const DefaultDiscoveryPrefix = "homeassistant"

// discoveredEntity remembers what a discovery ID currently maps to
type discoveredEntity struct {
	payload  string
	entityID string
}

// DiscoveryWatcher listens on <prefix>/select/+/config and manages select
// entities announced by devices: a config payload creates or reconfigures an
// entity, an empty payload removes it.
type DiscoveryWatcher struct {
	logger   *zap.Logger
	platform *Platform
	broker   mqtt.Client
	prefix   string

	mu    sync.Mutex
	known map[string]discoveredEntity
	sub   mqtt.Subscription
}

// NewDiscoveryWatcher creates a watcher for the given discovery prefix
func NewDiscoveryWatcher(platform *Platform, broker mqtt.Client, prefix string, logger *zap.Logger) *DiscoveryWatcher {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryWatcher{
		logger:   logger,
		platform: platform,
		broker:   broker,
		prefix:   prefix,
		known:    make(map[string]discoveredEntity),
	}
}

// Start subscribes to the discovery config topics
func (w *DiscoveryWatcher) Start() error {
	filter := w.prefix + "/" + Domain + "/+/config"
	sub, err := w.broker.Subscribe(filter, 0, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to discovery topic: %w", err)
	}

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	w.logger.Info("Discovery watcher started", zap.String("filter", filter))
	return nil
}

// Stop unsubscribes from the discovery topics
func (w *DiscoveryWatcher) Stop() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// discoveryID extracts the object segment of a config topic
func (w *DiscoveryWatcher) discoveryID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, w.prefix+"/"+Domain+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/config")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (w *DiscoveryWatcher) handleMessage(topic string, payload []byte) {
	id, ok := w.discoveryID(topic)
	if !ok {
		return
	}

	body := string(payload)

	w.mu.Lock()
	current, known := w.known[id]
	w.mu.Unlock()

	// Empty payload removes a discovered entity
	if strings.TrimSpace(body) == "" {
		if !known {
			return
		}
		w.platform.RemoveEntity(current.entityID)
		w.mu.Lock()
		delete(w.known, id)
		w.mu.Unlock()
		w.logger.Info("Discovered select removed", zap.String("discovery_id", id))
		return
	}

	if known && current.payload == body {
		w.logger.Debug("Discovery config unchanged", zap.String("discovery_id", id))
		return
	}

	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		w.logger.Warn("Unable to parse discovery config",
			zap.String("discovery_id", id),
			zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		// A bad payload never touches an already-running entity
		w.logger.Warn("Invalid discovery config",
			zap.String("discovery_id", id),
			zap.Error(err))
		return
	}

	if known {
		if err := w.platform.ReconfigureEntity(current.entityID, cfg); err != nil {
			w.logger.Error("Failed to apply discovery update",
				zap.String("discovery_id", id),
				zap.Error(err))
			return
		}
		w.mu.Lock()
		w.known[id] = discoveredEntity{payload: body, entityID: current.entityID}
		w.mu.Unlock()
		return
	}

	entity, err := w.platform.AddEntity(cfg)
	if err != nil {
		w.logger.Error("Failed to set up discovered select",
			zap.String("discovery_id", id),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.known[id] = discoveredEntity{payload: body, entityID: entity.EntityID()}
	w.mu.Unlock()
	w.logger.Info("Select discovered",
		zap.String("discovery_id", id),
		zap.String("entity_id", entity.EntityID()))
}
