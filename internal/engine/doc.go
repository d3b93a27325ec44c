// Package engine runs object queries against a database and turns their
// rows back into entities.
//
// A Factory is built once per metamodel, dialect and database client. It
// owns the plan cache: query text is parsed and bound once, and each
// bound statement is compiled once per in-list signature and paging mode.
// Concurrent misses for one key compile once.
//
// A Session is a unit of work. Its persistence context guarantees one
// instance per entity key; associations that a query did not fetch are
// *persist.LazyReference and *persist.PersistentCollection values that
// load on first access, batched or by replaying the owning query.
//
// Execution order inside one statement:
//
//  1. bindings are resolved; entity parameters contribute their key
//     attributes, padded in-list slots repeat the last value
//  2. the statement runs through a store.Executor, which closes it on
//     every path
//  3. each row is materialized: identity lookup, hydration of new
//     instances, merging of fetch joins
//  4. after the cursor closed: fetched collections are marked
//     initialized, subselect groups are registered, join-fetched
//     associations that were not joined are loaded
//
// Sessions are not safe for concurrent use; factories are.
package engine
