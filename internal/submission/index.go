package submission

import (
	"sync"

	"github.com/mmynk/eventsync/internal/identity"
	"github.com/mmynk/eventsync/internal/models"
)

// Index resolves entities by local id and by the identifier the server or
// peers know them by (temporary id before Create, server id after).
type Index struct {
	mu       sync.RWMutex
	entities map[string]models.Entity
	ids      map[string]string
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		entities: make(map[string]models.Entity),
		ids:      make(map[string]string),
	}
}

// Add registers e and, for owners, every descendant.
func (x *Index) Add(e models.Entity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.add(e)
}

func (x *Index) add(e models.Entity) {
	state := e.Sync()
	x.entities[state.LocalID] = e
	if id := state.Identifier(); id != "" {
		x.ids[id] = state.LocalID
	}
	if owner, ok := e.(models.Owner); ok {
		for _, child := range owner.Children() {
			x.add(child)
		}
	}
}

// Get returns the entity with the given local id.
func (x *Index) Get(localID string) (models.Entity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entities[localID]
	return e, ok
}

// Lookup returns the entity known by a temporary or server id.
func (x *Index) Lookup(id string) (models.Entity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	localID, ok := x.ids[id]
	if !ok {
		return nil, false
	}
	e, ok := x.entities[localID]
	return e, ok
}

// Rekey moves the identifier entry of a reconciled entity from its temporary
// id to its server id.
func (x *Index) Rekey(r identity.Rekey) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ids[r.OldTemp] == r.LocalID {
		delete(x.ids, r.OldTemp)
	}
	x.ids[r.ServerID] = r.LocalID
}

// Remove unregisters e and its descendants.
func (x *Index) Remove(e models.Entity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.remove(e)
}

func (x *Index) remove(e models.Entity) {
	state := e.Sync()
	delete(x.entities, state.LocalID)
	for _, id := range []string{state.ServerID, state.ClientTempID} {
		if id != "" && x.ids[id] == state.LocalID {
			delete(x.ids, id)
		}
	}
	if owner, ok := e.(models.Owner); ok {
		for _, child := range owner.Children() {
			x.remove(child)
		}
	}
}

// Len returns the number of registered entities.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entities)
}
