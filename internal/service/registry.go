package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/tracking"
)

// sessionEntry é o estado quente de uma sessão. mu serializa frames,
// reset e teardown da mesma sessão.
type sessionEntry struct {
	mu       sync.Mutex
	session  *domain.LivenessSession
	machine  *liveness.Machine
	tracker  *tracking.Tracker
	lastSeen time.Time
	// evicted entries were removed from the registry while a caller waited on mu
	evicted bool
}

type registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*sessionEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[uuid.UUID]*sessionEntry)}
}

// getOrCreate returns the entry for id, creating an empty one to be loaded by the caller
func (r *registry) getOrCreate(id uuid.UUID) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &sessionEntry{}
		r.entries[id] = e
	}
	return e
}

// remove drops e if it is still the entry registered for id. The caller holds e.mu.
func (r *registry) remove(id uuid.UUID, e *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.evicted = true
	if r.entries[id] == e {
		delete(r.entries, id)
	}
}

// sweep evicts entries for which keep returns false. Busy entries are skipped
// and looked at again on the next sweep.
func (r *registry) sweep(keep func(e *sessionEntry) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.session == nil || !keep(e) {
			e.evicted = true
			delete(r.entries, id)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
