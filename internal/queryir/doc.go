// Package queryir defines the semantic query tree: the typed, alias-resolved
// form of a query produced by the binder (from query text) or by the criteria
// builder (programmatically), and consumed by SQL lowering.
//
// ARCHITECTURE:
//
//	[hql text] → hql.Parse → binder.Bind ┐
//	                                     ├→ queryir.Statement → querysql.Lower
//	        criteria.Select(...).Build() ┘
//
// Both producers emit the same tree, so a query written either way lowers to
// the same relational statement.
//
// RANGES:
//
// Every from-clause source is a *Range: a root entity, an association join
// (explicit, implicit or fetch), an ad-hoc entity join, a derived table
// (subquery in from, optionally lateral) or a CTE reference. Ranges form a
// tree per from item; expressions point at ranges, never at aliases, so
// lowering does not resolve names again.
//
// SEALED INTERFACES:
//
// Statement, QueryPart, Expression and Predicate are sealed with marker
// methods so lowering can switch exhaustively:
//
//	switch e := expr.(type) {
//	case *AttributeRef:
//	case *EntityRef:
//	...
//	}
//
// ENTITY-VALUED EXPRESSIONS:
//
// EntityRef (a range), FKRef (an owning to-one read from its foreign key
// without a join) and KeyTuple (a chosen key of either) carry entity values.
// The binder resolves comparisons between them to KeyTuple comparisons so
// lowering only renders column lists.
//
// PARAMETERS:
//
// A statement's ParameterTable lists every named and ordinal parameter with
// its inferred type. Literals from the query text are carried as *Literal and
// bound at execution; they are never inlined into SQL text.
package queryir
