package core

import (
	"fmt"
	"sync"
)

// Registry tracks unique ID claims so that two configured entities cannot
// share one. A unique ID is scoped to a domain: a select and a binary sensor
// may carry the same unique_id without colliding.
type Registry struct {
	claims map[string]string
	mu     sync.Mutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		claims: make(map[string]string),
	}
}

func claimKey(domain, uniqueID string) string {
	return domain + ":" + uniqueID
}

// Claim reserves a unique ID for an entity. Claiming an already-claimed
// unique ID for a different entity fails; re-claiming for the same entity is
// a no-op so reconfiguration can keep its claim.
func (r *Registry) Claim(domain, uniqueID, entityID string) error {
	if uniqueID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := claimKey(domain, uniqueID)
	if existing, ok := r.claims[key]; ok {
		if existing == entityID {
			return nil
		}
		return fmt.Errorf("unique_id %q already claimed by %s", uniqueID, existing)
	}

	r.claims[key] = entityID
	return nil
}

// Release frees a unique ID claim
func (r *Registry) Release(domain, uniqueID string) {
	if uniqueID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, claimKey(domain, uniqueID))
}

// EntityID returns the entity holding a unique ID claim
func (r *Registry) EntityID(domain, uniqueID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entityID, ok := r.claims[claimKey(domain, uniqueID)]
	return entityID, ok
}
