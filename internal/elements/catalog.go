package elements

import (
	"encoding/json"
	"strings"
	"sync"
)

// Catalog is the mapping (type, name) -> Entity for one book (or one
// series when used as series memory). Iteration order is stable: entities
// come back in insertion order. Safe for concurrent use by the workers of
// a phase; cross-process exclusion is the caller's job (file locks).
type Catalog struct {
	// mergeMu serializes whole merge operations (including resolver
	// calls); mu guards the structures themselves so readers are never
	// blocked behind a slow resolver.
	mergeMu  sync.Mutex
	mu       sync.RWMutex
	entities []*Entity
	index    map[catalogKey]*Entity
}

type catalogKey struct {
	typ  Type
	name string // case-folded
}

func keyOf(typ Type, name string) catalogKey {
	return catalogKey{typ: typ, name: strings.ToLower(strings.TrimSpace(name))}
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[catalogKey]*Entity)}
}

// Len returns the number of entities.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Get returns the entity with the exact (type, case-folded name), or nil.
func (c *Catalog) Get(typ Type, name string) *Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index[keyOf(typ, name)]
}

// FindByAlias returns the first entity of the given type whose alias set
// contains name (case-insensitive), or nil.
func (c *Catalog) FindByAlias(typ Type, name string) *Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findByAliasLocked(typ, name)
}

func (c *Catalog) findByAliasLocked(typ Type, name string) *Entity {
	if e := c.index[keyOf(typ, name)]; e != nil {
		return e
	}
	for _, e := range c.entities {
		if e.Type != typ {
			continue
		}
		if e.HasAlias(name) {
			return e
		}
	}
	return nil
}

// FindAnyType searches every type group for an alias match, in catalog
// insertion order. Used by prompt enrichment where the mention's type is
// unknown.
func (c *Catalog) FindAnyType(name string) *Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entities {
		if e.HasAlias(name) {
			return e
		}
	}
	return nil
}

// Entities returns the entities in insertion order. The returned slice is
// a copy; the pointed-to entities are shared.
func (c *Catalog) Entities() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

// add inserts a new entity. Caller holds the write lock and has
// normalized the entity.
func (c *Catalog) addLocked(e *Entity) {
	c.entities = append(c.entities, e)
	c.index[keyOf(e.Type, e.Name)] = e
}

// catalogJSON is the persisted shape of a catalog snapshot.
type catalogJSON struct {
	Version  int       `json:"version"`
	Entities []*Entity `json:"entities"`
}

// MarshalJSON renders the catalog in insertion order.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(catalogJSON{Version: 1, Entities: c.entities})
}

// UnmarshalJSON restores a catalog snapshot, rebuilding the index and
// re-normalizing entities written by older versions.
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var raw catalogJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = nil
	c.index = make(map[catalogKey]*Entity, len(raw.Entities))
	for _, e := range raw.Entities {
		if e == nil || strings.TrimSpace(e.Name) == "" {
			continue
		}
		e.Normalize()
		c.addLocked(e)
	}
	return nil
}
