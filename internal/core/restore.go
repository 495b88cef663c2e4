package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// RestoreCache persists last known state strings to disk so that entities
// with no external source of truth (optimistic MQTT entities) can pick up
// where they left off after a restart.
type RestoreCache struct {
	path   string
	logger *zap.Logger
	states map[string]string
	mu     sync.Mutex
}

// NewRestoreCache creates a restore cache backed by the given file path.
// An empty path disables persistence; the cache then only lives in memory.
func NewRestoreCache(path string, logger *zap.Logger) *RestoreCache {
	return &RestoreCache{
		path:   path,
		logger: logger,
		states: make(map[string]string),
	}
}

// Load reads previously persisted states. A missing file is not an error.
func (c *RestoreCache) Load() error {
	if c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read restore cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := json.Unmarshal(data, &c.states); err != nil {
		return fmt.Errorf("failed to parse restore cache: %w", err)
	}

	c.logger.Info("Restore cache loaded",
		zap.String("path", c.path),
		zap.Int("entities", len(c.states)))
	return nil
}

// Get returns the restored state string for an entity
func (c *RestoreCache) Get(entityID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[entityID]
	return state, ok
}

// Set records a state string. unavailable is never recorded: restoring it
// would shadow whatever the entity learns after restart.
func (c *RestoreCache) Set(entityID, state string) {
	if state == StateUnavailable {
		return
	}

	c.mu.Lock()
	c.states[entityID] = state
	snapshot := make(map[string]string, len(c.states))
	for k, v := range c.states {
		snapshot[k] = v
	}
	c.mu.Unlock()

	c.persist(snapshot)
}

// Forget drops an entity from the cache
func (c *RestoreCache) Forget(entityID string) {
	c.mu.Lock()
	delete(c.states, entityID)
	snapshot := make(map[string]string, len(c.states))
	for k, v := range c.states {
		snapshot[k] = v
	}
	c.mu.Unlock()

	c.persist(snapshot)
}

// HandleStateChange is a Machine wildcard subscriber that keeps the cache in
// sync with every state change.
func (c *RestoreCache) HandleStateChange(event StateChangedEvent) {
	if event.NewState == nil {
		c.Forget(event.EntityID)
		return
	}
	c.Set(event.EntityID, event.NewState.State)
}

func (c *RestoreCache) persist(snapshot map[string]string) {
	if c.path == "" {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal restore cache", zap.Error(err))
		return
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Error("Failed to write restore cache",
			zap.String("path", c.path),
			zap.Error(err))
	}
}
