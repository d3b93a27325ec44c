package persist

import (
	"context"
	"fmt"

	"github.com/roach88/oql/internal/metamodel"
)

// Loader loads what lazy references and collections need. The engine
// implements it; a load may fill batch-mates of the requested key too.
type Loader interface {
	// LoadEntity loads and registers the instance with key, returning nil
	// when no row exists.
	LoadEntity(ctx context.Context, key EntityKey) (any, error)
	// LoadCollection adds every element of c and marks it initialized.
	LoadCollection(ctx context.Context, c *PersistentCollection) error
}

// Entry is an instance registered in a Context.
type Entry struct {
	Key      EntityKey
	Type     *metamodel.EntityType
	Instance any
}

// SubselectGroup is the set of collections one query left uninitialized
// for subselect fetching. Initializing any of them loads all of them.
type SubselectGroup struct {
	Attribute   *metamodel.Attribute
	Collections []*PersistentCollection
	// Query is the loader's description of the statement reloading the
	// group.
	Query any
}

// Context is the identity map of one unit of work: at most one instance
// per EntityKey and one collection per CollectionKey.
//
// A Context is not safe for concurrent use.
type Context struct {
	loader Loader
	closed bool

	entities    map[EntityKey]*Entry
	unique      map[EntityKey]any
	keys        map[any]EntityKey
	refs        map[EntityKey]*LazyReference
	refOrder    []*LazyReference
	collections map[CollectionKey]*PersistentCollection
	collOrder   []*PersistentCollection
	subselects  map[*PersistentCollection]*SubselectGroup
}

// NewContext returns an empty context loading through loader.
func NewContext(loader Loader) *Context {
	c := &Context{loader: loader}
	c.reset()
	return c
}

func (c *Context) reset() {
	c.entities = make(map[EntityKey]*Entry)
	c.unique = make(map[EntityKey]any)
	c.keys = make(map[any]EntityKey)
	c.refs = make(map[EntityKey]*LazyReference)
	c.refOrder = nil
	c.collections = make(map[CollectionKey]*PersistentCollection)
	c.collOrder = nil
	c.subselects = make(map[*PersistentCollection]*SubselectGroup)
}

// SetLoader replaces the loader.
func (c *Context) SetLoader(l Loader) { c.loader = l }

// Closed reports whether Close was called.
func (c *Context) Closed() bool { return c.closed }

// Lookup returns the entry registered under key.
func (c *Context) Lookup(key EntityKey) (*Entry, bool) {
	e, ok := c.entities[key]
	return e, ok
}

// Register records instance, of concrete type t, under key and resolves
// the key's reference. Registering a second instance for a key is an
// error: callers look the key up first and reuse the registered instance.
func (c *Context) Register(key EntityKey, t *metamodel.EntityType, instance any) (*Entry, error) {
	if c.closed {
		return nil, &LazyInitializationError{Target: key.String(), Reason: "persistence context closed"}
	}
	if prev, ok := c.entities[key]; ok {
		if prev.Instance == instance {
			return prev, nil
		}
		return nil, fmt.Errorf("%s is already associated with another instance", key)
	}
	e := &Entry{Key: key, Type: t, Instance: instance}
	c.entities[key] = e
	c.keys[instance] = key
	if r, ok := c.refs[key]; ok {
		r.resolveTo(instance)
	}
	return e, nil
}

// RegisterUniqueKey indexes a registered instance under one of its unique
// keys and resolves references made through it.
func (c *Context) RegisterUniqueKey(key EntityKey, instance any) {
	c.unique[key] = instance
	if r, ok := c.refs[key]; ok {
		r.resolveTo(instance)
	}
}

// Contains reports whether instance is managed by the context.
func (c *Context) Contains(instance any) bool {
	if instance == nil {
		return false
	}
	_, ok := c.keys[instance]
	return ok
}

// KeyOf returns the key instance is registered under.
func (c *Context) KeyOf(instance any) (EntityKey, bool) {
	k, ok := c.keys[instance]
	return k, ok
}

// Len returns the number of registered instances.
func (c *Context) Len() int { return len(c.entities) }

// Reference returns the context's reference for key, creating it on first
// request with id as its identifier values. A reference to a registered
// instance is already initialized.
func (c *Context) Reference(key EntityKey, id any) *LazyReference {
	if r, ok := c.refs[key]; ok {
		return r
	}
	r := &LazyReference{key: key, id: id, ctx: c}
	if e, ok := c.entities[key]; ok {
		r.resolveTo(e.Instance)
	} else if inst, ok := c.unique[key]; ok {
		r.resolveTo(inst)
	}
	c.refs[key] = r
	c.refOrder = append(c.refOrder, r)
	return r
}

// Collection returns the collection for key, creating an uninitialized one
// owned by owner on first request.
func (c *Context) Collection(key CollectionKey, attr *metamodel.Attribute, owner any) *PersistentCollection {
	if pc, ok := c.collections[key]; ok {
		return pc
	}
	pc := &PersistentCollection{key: key, attr: attr, owner: owner, ctx: c}
	c.collections[key] = pc
	c.collOrder = append(c.collOrder, pc)
	return pc
}

// LookupCollection returns the collection for key if one exists.
func (c *Context) LookupCollection(key CollectionKey) (*PersistentCollection, bool) {
	pc, ok := c.collections[key]
	return pc, ok
}

// PendingReferences returns up to limit uninitialized references to the
// hierarchy of r by primary key: r first, then others in creation order.
// References by unique key or inverse to-one are not batched.
func (c *Context) PendingReferences(r *LazyReference, limit int) []*LazyReference {
	out := []*LazyReference{r}
	if !r.key.IsPrimary() {
		return out
	}
	for _, o := range c.refOrder {
		if len(out) >= limit {
			break
		}
		if o != r && o.key.IsPrimary() && o.key.Root == r.key.Root && o.State() == Uninitialized {
			out = append(out, o)
		}
	}
	return out
}

// PendingCollections returns up to limit uninitialized collections of
// pc's role: pc first, then others in creation order.
func (c *Context) PendingCollections(pc *PersistentCollection, limit int) []*PersistentCollection {
	out := []*PersistentCollection{pc}
	for _, o := range c.collOrder {
		if len(out) >= limit {
			break
		}
		if o != pc && o.key.Role == pc.key.Role && o.State() == Uninitialized {
			out = append(out, o)
		}
	}
	return out
}

// AddSubselectGroup records g for each of its collections, replacing any
// older group they belonged to.
func (c *Context) AddSubselectGroup(g *SubselectGroup) {
	for _, pc := range g.Collections {
		c.subselects[pc] = g
	}
}

// SubselectGroup returns the group pc belongs to, if any.
func (c *Context) SubselectGroup(pc *PersistentCollection) (*SubselectGroup, bool) {
	g, ok := c.subselects[pc]
	return g, ok
}

// RemoveSubselectGroup forgets g once it has been loaded.
func (c *Context) RemoveSubselectGroup(g *SubselectGroup) {
	for _, pc := range g.Collections {
		if c.subselects[pc] == g {
			delete(c.subselects, pc)
		}
	}
}

// Clear detaches everything. References and collections handed out before
// can no longer be initialized.
func (c *Context) Clear() {
	c.detach()
	c.reset()
}

// Close clears the context and refuses later registrations.
func (c *Context) Close() {
	c.Clear()
	c.closed = true
}

func (c *Context) detach() {
	for _, r := range c.refOrder {
		r.mu.Lock()
		r.ctx = nil
		r.mu.Unlock()
	}
	for _, pc := range c.collOrder {
		pc.mu.Lock()
		pc.ctx = nil
		pc.mu.Unlock()
	}
}
