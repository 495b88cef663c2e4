package mqttselect

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"entitybridge/internal/core"
	"entitybridge/internal/mqtt"
)

// Platform owns every MQTT select entity and handles the
// select.select_option service.
type Platform struct {
	logger   *zap.Logger
	machine  *core.Machine
	registry *core.Registry
	broker   mqtt.Client
	restore  *core.RestoreCache

	mu       sync.Mutex
	entities map[string]*Select
	brokerUp bool
}

// NewPlatform creates the select platform and hooks it to the broker's
// connection lifecycle.
func NewPlatform(machine *core.Machine, registry *core.Registry, broker mqtt.Client, restore *core.RestoreCache, logger *zap.Logger) *Platform {
	p := &Platform{
		logger:   logger,
		machine:  machine,
		registry: registry,
		broker:   broker,
		restore:  restore,
		entities: make(map[string]*Select),
		brokerUp: broker.IsConnected(),
	}

	broker.OnConnectionChange(p.handleConnectionChange)
	return p
}

// RegisterServices wires the platform's services into the bus
func (p *Platform) RegisterServices(bus *core.Bus) {
	bus.Register(Domain, "select_option", p.handleSelectOptionService)
}

// AddEntity validates a config and brings a select entity up.
// Invalid configs and unique ID collisions fail without affecting other
// entities.
func (p *Platform) AddEntity(cfg Config) (*Select, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid select config: %w", err)
	}

	entityID := core.EntityID(Domain, cfg.Name)

	p.mu.Lock()
	if _, exists := p.entities[entityID]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("entity %s already exists", entityID)
	}
	brokerUp := p.brokerUp
	p.mu.Unlock()

	if err := p.registry.Claim(Domain, cfg.UniqueID, entityID); err != nil {
		return nil, fmt.Errorf("rejecting %s: %w", entityID, err)
	}

	entity, err := newSelect(cfg, entityID, p.machine, p.broker, p.logger)
	if err != nil {
		p.registry.Release(Domain, cfg.UniqueID)
		return nil, err
	}

	if err := entity.start(p.restore, brokerUp); err != nil {
		p.registry.Release(Domain, cfg.UniqueID)
		return nil, err
	}

	p.mu.Lock()
	p.entities[entityID] = entity
	p.mu.Unlock()

	p.logger.Info("Select entity added",
		zap.String("entity_id", entityID),
		zap.Strings("options", cfg.OptionList()))
	return entity, nil
}

// ReconfigureEntity applies a new config to an existing entity in place
func (p *Platform) ReconfigureEntity(entityID string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid select config: %w", err)
	}

	p.mu.Lock()
	entity, ok := p.entities[entityID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("entity %s not found", entityID)
	}

	oldUniqueID := entity.uniqueID()
	if cfg.UniqueID != oldUniqueID {
		if err := p.registry.Claim(Domain, cfg.UniqueID, entityID); err != nil {
			return err
		}
		p.registry.Release(Domain, oldUniqueID)
	}

	if err := entity.reconfigure(cfg); err != nil {
		return err
	}

	p.logger.Info("Select entity reconfigured", zap.String("entity_id", entityID))
	return nil
}

// RemoveEntity tears a select entity down and releases its claims
func (p *Platform) RemoveEntity(entityID string) {
	p.mu.Lock()
	entity, ok := p.entities[entityID]
	if ok {
		delete(p.entities, entityID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	entity.stop()
	p.registry.Release(Domain, entity.uniqueID())
	p.logger.Info("Select entity removed", zap.String("entity_id", entityID))
}

// Entity returns a select entity by its entity ID
func (p *Platform) Entity(entityID string) (*Select, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entity, ok := p.entities[entityID]
	return entity, ok
}

// handleConnectionChange flips availability of every entity with the broker
// connection.
func (p *Platform) handleConnectionChange(connected bool) {
	p.mu.Lock()
	p.brokerUp = connected
	entities := make([]*Select, 0, len(p.entities))
	for _, entity := range p.entities {
		entities = append(entities, entity)
	}
	p.mu.Unlock()

	for _, entity := range entities {
		entity.setBrokerUp(connected)
	}
}

// handleSelectOptionService serves select.select_option calls
func (p *Platform) handleSelectOptionService(data map[string]interface{}) error {
	option, ok := data["option"].(string)
	if !ok {
		return fmt.Errorf("option is required")
	}

	entityIDs := core.EntityIDs(data)
	if len(entityIDs) == 0 {
		return fmt.Errorf("entity_id is required")
	}

	for _, entityID := range entityIDs {
		entity, ok := p.Entity(entityID)
		if !ok {
			return fmt.Errorf("entity %s not found", entityID)
		}
		if err := entity.SelectOption(option); err != nil {
			return err
		}
	}
	return nil
}
