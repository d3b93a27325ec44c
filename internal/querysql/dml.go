package querysql

import (
	"fmt"
	"strconv"

	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/sqlast"
)

// update lowers a bulk update. Every assigned attribute must live in one
// table. The statement is qualified by table name when its condition reads
// only that table; otherwise the rows are chosen by key with a subquery
// over the target range and its joins.
func (l *lowerer) update(s *queryir.UpdateStatement) (sqlast.Statement, error) {
	r := s.Target
	l.plain[r] = true
	g := l.group(r)

	k := -1
	var set []*sqlast.Assignment
	for _, a := range s.Assignments {
		var cols []string
		var declarer *metamodel.EntityType
		switch t := a.Target.(type) {
		case *queryir.AttributeRef:
			cols, declarer = t.Columns(), t.Declarer()
		case *queryir.FKRef:
			cols, declarer = t.Attribute.JoinColumns(), declaringEntity(t.Attribute)
		default:
			return nil, fmt.Errorf("lower: unsupported assignment target %T", a.Target)
		}
		idx := g.index(declarer)
		if k >= 0 && idx != k {
			return nil, &UnsupportedConstructError{Construct: "update of attributes stored in several tables", Dialect: l.d.Name}
		}
		k = idx
		values, err := l.exprs(a.Value)
		if err != nil {
			return nil, err
		}
		if len(values) != len(cols) {
			return nil, fmt.Errorf("lower: assignment of %d values to %d columns", len(values), len(cols))
		}
		for i, c := range cols {
			set = append(set, &sqlast.Assignment{Column: c, Value: values[i]})
		}
	}
	if k < 0 {
		return nil, fmt.Errorf("lower: update without assignments")
	}
	if !l.onlyTable(g, k) {
		return nil, &UnsupportedConstructError{Construct: "update value reading attributes outside the updated table", Dialect: l.d.Name}
	}
	table := g.types[k]

	where, ok, err := l.plainWhere(s.Target, s.Where, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		if where, err = l.keySubquery(r, s.Where, table, s); err != nil {
			return nil, err
		}
	}
	return &sqlast.Update{Table: table.Table(), Set: set, Where: where}, nil
}

// delete lowers a bulk delete. Entities spread over several tables cannot
// be deleted with one statement.
func (l *lowerer) delete(s *queryir.DeleteStatement) (sqlast.Statement, error) {
	r := s.Target
	if joinedHierarchy(r.Entity) {
		return nil, &UnsupportedConstructError{Construct: "bulk delete of " + r.Entity.Name() + " stored in several tables", Dialect: l.d.Name}
	}
	l.plain[r] = true
	where, ok, err := l.plainWhere(r, s.Where, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		if where, err = l.keySubquery(r, s.Where, r.Entity, s); err != nil {
			return nil, err
		}
	}
	return &sqlast.Delete{Table: r.Entity.Table(), Where: where}, nil
}

// onlyTable reports whether table k is the only table of g in use.
func (l *lowerer) onlyTable(g *tableGroup, k int) bool {
	for i, used := range g.used {
		if used && i != k {
			return false
		}
	}
	return true
}

// plainWhere lowers the condition of a bulk statement qualified by table
// name. ok is false when the condition needs joins or other tables.
func (l *lowerer) plainWhere(r *queryir.Range, where queryir.Predicate, k int) (sqlast.Pred, bool, error) {
	if len(r.Joins) > 0 {
		return nil, false, nil
	}
	if k != 0 {
		return nil, false, nil
	}
	g := l.group(r)
	p, err := l.pred(where)
	if err != nil {
		return nil, false, err
	}
	if !l.onlyTable(g, k) {
		return nil, false, nil
	}
	return sqlast.Conj(p, l.subtypeRestriction(r)), true, nil
}

// keySubquery selects the rows of a bulk statement by key: the target
// range, its joins and the condition are lowered again as a select of the
// key, aliased like a query.
func (l *lowerer) keySubquery(r *queryir.Range, where queryir.Predicate, table *metamodel.EntityType, stmt queryir.Statement) (sqlast.Pred, error) {
	sub := newLowerer(l.c, l.opts)
	sub.assignAliases(stmt)
	q := &queryir.SelectStatement{Body: &queryir.QuerySpec{
		From:      []*queryir.Range{r},
		Selection: []*queryir.SelectItem{{Expr: &queryir.EntityRef{Range: r}}},
		Where:     where,
	}}
	sel, _, err := sub.selectStmt(q, false)
	if err != nil {
		return nil, err
	}
	keys := sqlast.Cols(table.Table(), table.IDColumns())
	if l.d.DMLSubqueryNeedsDerived {
		sel = wrapDerived(sel, len(keys))
	}
	return &sqlast.InQuery{X: rowValue(keys), Query: sel}, nil
}

// wrapDerived selects the n columns of sel through a derived table, so the
// statement's target table is not read directly by its own subquery.
func wrapDerived(sel *sqlast.Select, n int) *sqlast.Select {
	const alias = "k_"
	core := sel.Body.(*sqlast.Core)
	outer := &sqlast.Core{}
	for i := 0; i < n; i++ {
		name := "k" + strconv.Itoa(i)
		core.Columns[i].Alias = name
		addColumn(outer, sqlast.Col(alias, name))
	}
	outer.From = []*sqlast.FromItem{{Source: &sqlast.Derived{Query: sel, Alias: alias}}}
	return &sqlast.Select{Body: outer}
}
