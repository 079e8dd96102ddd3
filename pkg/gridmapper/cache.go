package gridmapper

import "sync"

type rowKey struct {
	tableID string
	rowID   string
}

// Cache is an identity map over (table id, row id) pairs. Every persisted
// row that passes through a Mapper is registered here, so repeated fetches
// and row references that point to the same row always share a single
// instance.
//
// The cache itself is safe for concurrent use. The entities it holds follow
// the caller's synchronization, so readers of an entity that is being
// resolved in the background should Await the resolution first.
type Cache struct {
	mu      sync.Mutex
	entries map[rowKey]*Entity
}

func NewCache() *Cache {
	return &Cache{entries: map[rowKey]*Entity{}}
}

// Lookup returns the instance that is registered for the given row, if any.
func (c *Cache) Lookup(tableID, rowID string) (Persistable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[rowKey{tableID: tableID, rowID: rowID}]
	if !ok {
		return nil, false
	}

	return e.self, true
}

// Size returns the number of registered rows.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Clear forgets all registered rows. Instances that are still referenced by
// the caller keep working, but they will no longer be found by their row key,
// so later fetches of the same rows produce new instances.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = map[rowKey]*Entity{}
}

// RegisterOrMerge registers an entity under its row key. If the key is
// already taken the new state is merged into the registered instance, which
// keeps its identity and is returned instead. Holders of the previously
// registered instance observe the merged values without being handed a new
// object.
func (c *Cache) RegisterOrMerge(p Persistable) Persistable {
	b := p.base()
	if b.self == nil {
		b.self = p
	}

	return c.registerOrMerge(b).self
}

func (c *Cache) registerOrMerge(b *Entity) *Entity {
	key := rowKey{tableID: b.tableID, rowID: b.rowID}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[key]
	if !ok {
		c.entries[key] = b
		return b
	}

	if existing != b {
		existing.adopt(b)
	}

	return existing
}

// lookupOrRegister returns the registered instance for the row if one
// exists, and registers the given one otherwise. A registered instance is
// never modified by this path, so a fetched row is not downgraded when a
// reference to it is decoded.
func (c *Cache) lookupOrRegister(b *Entity) *Entity {
	key := rowKey{tableID: b.tableID, rowID: b.rowID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		return existing
	}

	c.entries[key] = b
	return b
}
