package restbinary

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"entitybridge/internal/clock"
	"entitybridge/internal/core"
)

// Platform owns every REST binary sensor and handles the rest.reload and
// homeassistant.update_entity services.
type Platform struct {
	logger   *zap.Logger
	machine  *core.Machine
	registry *core.Registry
	clk      clock.Clock

	mu             sync.Mutex
	sensors        map[string]*Sensor
	configProvider ConfigProvider
}

// NewPlatform creates the REST binary sensor platform
func NewPlatform(machine *core.Machine, registry *core.Registry, clk clock.Clock, logger *zap.Logger) *Platform {
	return &Platform{
		logger:   logger,
		machine:  machine,
		registry: registry,
		clk:      clk,
		sensors:  make(map[string]*Sensor),
	}
}

// RegisterServices wires the platform's services into the bus
func (p *Platform) RegisterServices(bus *core.Bus) {
	bus.Register("rest", "reload", p.handleReloadService)
	bus.Register("homeassistant", "update_entity", p.handleUpdateEntityService)
}

// AddEntity validates a config, performs the initial fetch and starts the
// polling loop. A failed initial fetch means no entity is created.
func (p *Platform) AddEntity(ctx context.Context, cfg Config) (*Sensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rest binary sensor config: %w", err)
	}
	cfg = cfg.withDefaults()

	entityID := core.EntityID(Domain, cfg.Name)

	p.mu.Lock()
	if _, exists := p.sensors[entityID]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("entity %s already exists", entityID)
	}
	p.mu.Unlock()

	if err := p.registry.Claim(Domain, cfg.UniqueID, entityID); err != nil {
		return nil, fmt.Errorf("rejecting %s: %w", entityID, err)
	}

	sensor, err := newSensor(cfg, entityID, p.machine, p.clk, p.logger)
	if err != nil {
		p.registry.Release(Domain, cfg.UniqueID)
		return nil, err
	}

	if err := sensor.Refresh(ctx); err != nil {
		p.registry.Release(Domain, cfg.UniqueID)
		p.machine.Remove(entityID)
		return nil, fmt.Errorf("initial fetch for %s failed: %w", entityID, err)
	}

	sensor.start()

	p.mu.Lock()
	p.sensors[entityID] = sensor
	p.mu.Unlock()

	p.logger.Info("REST binary sensor added", zap.String("entity_id", entityID))
	return sensor, nil
}

// RemoveEntity stops a sensor's polling loop and releases its claims
func (p *Platform) RemoveEntity(entityID string) {
	p.mu.Lock()
	sensor, ok := p.sensors[entityID]
	if ok {
		delete(p.sensors, entityID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	sensor.stop()
	p.registry.Release(Domain, sensor.cfg.UniqueID)
	p.logger.Info("REST binary sensor removed", zap.String("entity_id", entityID))
}

// Sensor returns a sensor by its entity ID
func (p *Platform) Sensor(entityID string) (*Sensor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sensor, ok := p.sensors[entityID]
	return sensor, ok
}

// Reload tears every sensor down and rebuilds the platform from a fresh set
// of configs. Sensors whose initial fetch fails are skipped, the rest come
// up normally.
func (p *Platform) Reload(ctx context.Context, cfgs []Config) error {
	p.mu.Lock()
	old := p.sensors
	p.sensors = make(map[string]*Sensor)
	p.mu.Unlock()

	for _, sensor := range old {
		sensor.stop()
		p.registry.Release(Domain, sensor.cfg.UniqueID)
	}

	var firstErr error
	for _, cfg := range cfgs {
		if _, err := p.AddEntity(ctx, cfg); err != nil {
			p.logger.Warn("Skipping REST binary sensor on reload", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	p.logger.Info("REST binary sensor platform reloaded", zap.Int("sensors", len(cfgs)))
	return firstErr
}

// ConfigProvider supplies the current sensor configs for rest.reload
type ConfigProvider func() ([]Config, error)

// SetConfigProvider installs the config source used by the rest.reload
// service.
func (p *Platform) SetConfigProvider(provider ConfigProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configProvider = provider
}

// handleReloadService serves rest.reload calls
func (p *Platform) handleReloadService(data map[string]interface{}) error {
	p.mu.Lock()
	provider := p.configProvider
	p.mu.Unlock()

	if provider == nil {
		return fmt.Errorf("no config source for reload")
	}

	cfgs, err := provider()
	if err != nil {
		return fmt.Errorf("failed to load configs: %w", err)
	}
	return p.Reload(context.Background(), cfgs)
}

// handleUpdateEntityService serves homeassistant.update_entity calls for
// sensors owned by this platform.
func (p *Platform) handleUpdateEntityService(data map[string]interface{}) error {
	entityIDs := core.EntityIDs(data)
	if len(entityIDs) == 0 {
		return fmt.Errorf("entity_id is required")
	}

	for _, entityID := range entityIDs {
		sensor, ok := p.Sensor(entityID)
		if !ok {
			return fmt.Errorf("entity %s not found", entityID)
		}
		if err := sensor.Refresh(context.Background()); err != nil {
			return err
		}
	}
	return nil
}
