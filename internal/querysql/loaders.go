package querysql

import (
	"strconv"

	"github.com/roach88/oql/internal/criteria"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// KeysParam is the multi-valued parameter loader statements bind
// identifiers to; KeysLabel is its slot label.
const (
	KeysParam = "keys"
	KeysLabel = ":" + KeysParam
)

// UniqueKeyParam names the parameter bound to column i of a unique key.
func UniqueKeyParam(i int) string { return "k" + strconv.Itoa(i) }

// EntityLoader selects instances of e whose identifier is in KeysParam.
// Associations mapped with join fetching are fetched along, depth levels
// deep.
func EntityLoader(e *metamodel.EntityType, depth int) (*queryir.SelectStatement, error) {
	b := criteria.New()
	x := b.Root(e, "x")
	fetchEager(x, e, depth, map[*metamodel.EntityType]bool{e.Root(): true})
	return b.Select(x.Entity()).
		From(x).
		Where(b.In(x.Get(e.ID().Name()), b.Param(KeysParam))).
		Build()
}

// UniqueKeyLoader selects the instance of e with the given unique key.
// Each key column is bound to UniqueKeyParam of its position.
func UniqueKeyLoader(e *metamodel.EntityType, key string) (*queryir.SelectStatement, error) {
	b := criteria.New()
	x := b.Root(e, "x")
	var preds []queryir.Predicate
	i := 0
	for _, a := range e.UniqueKey(key) {
		for _, path := range leafPaths(a) {
			names := make([]string, len(path))
			for j, p := range path {
				names[j] = p.Name()
			}
			preds = append(preds, b.Eq(x.Get(names...), b.Param(UniqueKeyParam(i))))
			i++
		}
	}
	return b.Select(x.Entity()).From(x).Where(preds...).Build()
}

// CollectionLoader selects the elements of the to-many attr, or the target
// of an inverse to-one, for the owners whose identifier is in KeysParam.
// Rows are (owner id, element).
func CollectionLoader(attr *metamodel.Attribute, depth int) (*queryir.SelectStatement, error) {
	owner := declaringEntity(attr)
	b := criteria.New()
	o := b.Root(owner, "o")
	t := o.JoinAttribute(attr, "t", queryir.JoinInner, false)
	fetchEager(t, attr.Target(), depth-1, map[*metamodel.EntityType]bool{attr.Target().Root(): true})
	id := owner.ID().Name()
	q := b.Select(o.Get(id), t.Entity()).
		From(o).
		Where(b.In(o.Get(id), b.Param(KeysParam)))
	if attr.Collection() == metamodel.CollectionList {
		q = q.OrderBy(t.Get(attr.Target().ID().Name()))
	}
	return q.Build()
}

// SubselectLoader selects the elements of attr for every owner the query
// of plan returned, re-running its from and where clauses as a subquery.
// owner is the range the owners were read from. ok is false when the query
// cannot be reused: set operations, grouping, paging and common table
// expressions fall back to batch loading.
func SubselectLoader(attr *metamodel.Attribute, plan *Plan, owner *queryir.Range) (stmt *queryir.SelectStatement, ok bool, err error) {
	src, isSelect := plan.Source.(*queryir.SelectStatement)
	if !isSelect || len(src.CTEs) > 0 || src.Limit != nil || src.Offset != nil ||
		plan.Options.FirstResult || plan.Options.MaxResults {
		return nil, false, nil
	}
	spec, isSpec := src.Body.(*queryir.QuerySpec)
	if !isSpec || len(spec.GroupBy) > 0 || spec.Having != nil || !declares(spec, owner) {
		return nil, false, nil
	}

	e := declaringEntity(attr)
	id := e.ID()
	b := criteria.Extending(src)
	o := b.Root(e, "o")
	t := o.JoinAttribute(attr, "t", queryir.JoinInner, false)
	sub := &queryir.SelectStatement{Body: &queryir.QuerySpec{
		From:      spec.From,
		Selection: []*queryir.SelectItem{{Expr: &queryir.AttributeRef{Range: owner, Path: []*metamodel.Attribute{id}}}},
		Where:     spec.Where,
	}}
	idRef := o.Get(id.Name())
	stmt, err = b.Select(idRef, t.Entity()).
		From(o).
		Where(&queryir.InSubquery{X: o.Get(id.Name()), Query: sub}).
		Build()
	if err != nil {
		return nil, false, err
	}
	return stmt, true, nil
}

func declares(spec *queryir.QuerySpec, r *queryir.Range) bool {
	found := false
	for _, root := range spec.From {
		root.Walk(func(x *queryir.Range) {
			found = found || x == r
		})
	}
	return found
}

// fetchEager left join fetches the join-fetched associations of e and its
// subtypes. Hierarchies already on the path are not entered again.
func fetchEager(p *criteria.Path, e *metamodel.EntityType, depth int, seen map[*metamodel.EntityType]bool) {
	if depth <= 0 {
		return
	}
	for _, a := range entityAttributes(e) {
		if !a.Kind().IsAssociation() || a.Fetch() != metamodel.FetchJoin {
			continue
		}
		root := a.Target().Root()
		if seen[root] {
			continue
		}
		seen[root] = true
		j := p.JoinAttribute(a, "", queryir.JoinLeft, true)
		fetchEager(j, a.Target(), depth-1, seen)
		delete(seen, root)
	}
}
