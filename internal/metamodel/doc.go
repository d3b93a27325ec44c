// Package metamodel describes the mapped domain: entity types, their
// attributes, identifiers, inheritance and association join conditions.
//
// A Metamodel is produced once at startup, either from Go definitions
// (Build / Builder) or from CUE files (LoadCUE), and is read-only
// afterwards. It is safe for concurrent use by any number of sessions.
//
// ATTRIBUTE ACCESS:
//
// No reflection is used. Every attribute carries an Accessor (Get/Set
// functions) built during metamodel construction. Entity types without a
// custom instance factory are instantiated as *Record values whose
// accessors index a value slot directly:
//
//	person := meta.Entity("Person").New().(*metamodel.Record)
//	person.Set("name", "Ada")
//
// Applications that materialize into their own structs supply
// EntityDef.Instantiate and AttributeDef.Get/Set.
package metamodel
