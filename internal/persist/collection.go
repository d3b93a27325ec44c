package persist

import (
	"context"

	"github.com/roach88/oql/internal/metamodel"
)

// PersistentCollection is the value of a to-many association. Elements
// are entity instances; each instance appears at most once.
type PersistentCollection struct {
	lazyState
	key      CollectionKey
	attr     *metamodel.Attribute
	owner    any
	ctx      *Context
	elements []any
	present  map[any]struct{}
}

// Key returns the collection's key.
func (c *PersistentCollection) Key() CollectionKey { return c.key }

// Attribute returns the to-many attribute the collection is the value of.
func (c *PersistentCollection) Attribute() *metamodel.Attribute { return c.attr }

// Owner returns the owning instance.
func (c *PersistentCollection) Owner() any { return c.owner }

// State returns the current state.
func (c *PersistentCollection) State() State { return c.current() }

// Loads returns how many loads the collection issued itself. Collections
// filled by a batch or subselect load of another collection issue none.
func (c *PersistentCollection) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Elements returns the elements read so far without loading.
func (c *PersistentCollection) Elements() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.elements...)
}

// Get returns the elements, loading the collection on first access.
func (c *PersistentCollection) Get(ctx context.Context) ([]any, error) {
	err := c.initialize(ctx, c.key.String(), func(ctx context.Context) error {
		pc := c.ctx
		if pc == nil || pc.closed {
			return &LazyInitializationError{Target: c.key.String(), Reason: "no open persistence context"}
		}
		if pc.loader == nil {
			return &LazyInitializationError{Target: c.key.String(), Reason: "no loader"}
		}
		return pc.loader.LoadCollection(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c.Elements(), nil
}

// Len loads the collection and returns its size.
func (c *PersistentCollection) Len(ctx context.Context) (int, error) {
	els, err := c.Get(ctx)
	return len(els), err
}

// Add appends e unless it is already an element. It reports whether e was
// added. Loaders and the materializer call Add while filling a collection.
func (c *PersistentCollection) Add(e any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.present[e]; ok {
		return false
	}
	if c.present == nil {
		c.present = make(map[any]struct{})
	}
	c.present[e] = struct{}{}
	c.elements = append(c.elements, e)
	return true
}

// MarkInitialized records that every element has been added.
func (c *PersistentCollection) MarkInitialized() {
	c.resolve(func() {})
}
