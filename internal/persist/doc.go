// Package persist holds the per-unit-of-work state of materialized
// entities.
//
// A Context maps EntityKey (hierarchy root, canonical identifier) to the
// one instance of that entity and CollectionKey (role, owner key) to the
// one PersistentCollection of that association. Entities reference each
// other through values owned by the Context rather than owning each
// other, so cyclic graphs need no special handling.
//
// Associations that were not fetched are represented explicitly:
//
//   - a to-one is a *LazyReference; the Context hands out one per key
//   - a to-many is a *PersistentCollection
//
// Both move Uninitialized -> Initializing -> Initialized exactly once.
// They load through the Context's Loader, which the engine implements
// and which may batch pending keys (PendingReferences, PendingCollections)
// or replay the owning query (SubselectGroup).
//
// Instances must be pointers: the Context keys its reverse map and
// collections dedupe elements by instance identity.
package persist
