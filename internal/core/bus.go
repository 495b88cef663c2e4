package core

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ServiceHandler executes a service call
type ServiceHandler func(data map[string]interface{}) error

// Bus routes service calls (e.g. select.select_option) to the platform that
// registered them.
type Bus struct {
	logger   *zap.Logger
	handlers map[string]ServiceHandler
	mu       sync.RWMutex
}

// NewBus creates an empty service bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[string]ServiceHandler),
	}
}

func serviceKey(domain, service string) string {
	return domain + "." + service
}

// Register adds a service handler. Registering the same service twice
// replaces the previous handler.
func (b *Bus) Register(domain, service string, handler ServiceHandler) {
	b.mu.Lock()
	b.handlers[serviceKey(domain, service)] = handler
	b.mu.Unlock()

	b.logger.Debug("Service registered",
		zap.String("domain", domain),
		zap.String("service", service))
}

// Unregister removes a service handler
func (b *Bus) Unregister(domain, service string) {
	b.mu.Lock()
	delete(b.handlers, serviceKey(domain, service))
	b.mu.Unlock()
}

// Call invokes a registered service
func (b *Bus) Call(domain, service string, data map[string]interface{}) error {
	b.mu.RLock()
	handler, ok := b.handlers[serviceKey(domain, service)]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("service %s.%s not found", domain, service)
	}

	if err := handler(data); err != nil {
		return fmt.Errorf("service %s.%s failed: %w", domain, service, err)
	}
	return nil
}

// EntityIDs extracts the entity_id field of a service call, accepting either
// a single string or a list of strings.
func EntityIDs(data map[string]interface{}) []string {
	switch v := data["entity_id"].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}
