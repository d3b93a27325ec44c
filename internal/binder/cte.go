package binder

import (
	"fmt"

	"github.com/roach88/oql/internal/hql"
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// cte binds one with-clause entry. Under "with recursive" a union whose
// right member reads the CTE itself is a recursive CTE: the left member is
// the anchor and fixes the columns.
func (b *binder) cte(c *hql.CTE, recursive bool, sc *scope) (*queryir.CTE, error) {
	cte := &queryir.CTE{Name: c.Name}
	op, isSet := c.Query.Body.(*hql.SetOperation)
	if recursive && isSet && op.Op == hql.Union && len(c.Query.With) == 0 {
		qsc := newScope(sc, nil)
		left, _, err := b.body(op.Left, qsc)
		if err != nil {
			return nil, err
		}
		if cte.Columns, err = b.selectionColumns(&queryir.SelectStatement{Body: left}, c.Columns, c.Name, c.Pos); err != nil {
			return nil, err
		}
		qsc.ctes[fold(c.Name)] = cte
		right, _, err := b.body(op.Right, qsc)
		if err != nil {
			return nil, err
		}
		if err := b.identifierSelections(right, c.Pos); err != nil {
			return nil, err
		}
		if err := checkRecursiveMember(cte, right, c.Pos); err != nil {
			return nil, err
		}
		cte.Recursive = references(right, cte)
		cte.Query = &queryir.SelectStatement{
			Body: &queryir.SetOperation{Op: queryir.Union, All: op.All, Left: left, Right: right},
		}
	} else {
		q, err := b.query(c.Query, sc)
		if err != nil {
			return nil, err
		}
		if cte.Columns, err = b.selectionColumns(q, c.Columns, c.Name, c.Pos); err != nil {
			return nil, err
		}
		cte.Query = q
	}

	names := map[string]bool{}
	for _, col := range cte.Columns {
		names[fold(col.Name)] = true
	}
	claim := func(name string, pos int) error {
		if name == "" {
			return nil
		}
		if names[fold(name)] {
			return &AmbiguousAliasError{Alias: name, Pos: pos, Message: "clashes with a column of " + c.Name}
		}
		names[fold(name)] = true
		return nil
	}

	if s := c.Search; s != nil {
		if !cte.Recursive {
			return nil, &TypeMismatchError{Left: "non-recursive " + c.Name, Context: "search clause", Pos: s.Pos}
		}
		spec := &queryir.SearchSpec{BreadthFirst: s.BreadthFirst, SetColumn: s.Set}
		for _, item := range s.By {
			idx, err := cteColumn(cte, item.Expr)
			if err != nil {
				return nil, err
			}
			spec.By = append(spec.By, queryir.CTESort{Column: idx, Desc: item.Desc})
		}
		if err := claim(s.Set, s.Pos); err != nil {
			return nil, err
		}
		cte.Search = spec
	}

	if cy := c.Cycle; cy != nil {
		if !cte.Recursive {
			return nil, &TypeMismatchError{Left: "non-recursive " + c.Name, Context: "cycle clause", Pos: cy.Pos}
		}
		spec := &queryir.CycleSpec{
			SetColumn:   cy.Set,
			UsingColumn: cy.Using,
			Mark:        ir.IRBool(true),
			Default:     ir.IRBool(false),
			MarkType:    metamodel.TypeBoolean,
		}
		for _, name := range cy.Attributes {
			idx := cte.ColumnIndex(name)
			if idx < 0 {
				return nil, &PathResolutionError{Path: name, Pos: cy.Pos, Message: "is not a column of " + c.Name}
			}
			spec.Columns = append(spec.Columns, idx)
		}
		if cy.Mark != nil {
			mark, mok := cy.Mark.(*hql.Literal)
			def, dok := cy.Default.(*hql.Literal)
			if !mok || !dok || mark.Kind == hql.LitNull || mark.Kind != def.Kind {
				return nil, &TypeMismatchError{Left: describeLiteral(cy.Mark), Right: describeLiteral(cy.Default), Context: "cycle mark and default", Pos: cy.Pos}
			}
			if same, _ := sameValue(mark.Value, def.Value); same {
				return nil, &TypeMismatchError{Left: describeLiteral(cy.Mark), Right: describeLiteral(cy.Default), Context: "cycle mark must differ from default", Pos: cy.Pos}
			}
			spec.Mark, spec.Default = mark.Value, def.Value
			spec.MarkType = literal(mark).T.Basic
		}
		if err := claim(cy.Set, cy.Pos); err != nil {
			return nil, err
		}
		if err := claim(cy.Using, cy.Pos); err != nil {
			return nil, err
		}
		cte.Cycle = spec
	}
	return cte, nil
}

func describeLiteral(e hql.Expr) string {
	l, ok := e.(*hql.Literal)
	if !ok {
		return "expression"
	}
	return ir.Kind(l.Value)
}

func sameValue(a, b ir.IRValue) (bool, error) {
	x, err := ir.MarshalCanonical(a)
	if err != nil {
		return false, err
	}
	y, err := ir.MarshalCanonical(b)
	if err != nil {
		return false, err
	}
	return string(x) == string(y), nil
}

func cteColumn(cte *queryir.CTE, e hql.Expr) (int, error) {
	p, ok := e.(*hql.Path)
	if !ok || len(p.Segments) != 1 {
		return -1, &PathResolutionError{Path: cte.Name, Pos: e.Position(), Message: "search orders by column names only"}
	}
	idx := cte.ColumnIndex(p.Segments[0])
	if idx < 0 {
		return -1, &PathResolutionError{Path: p.Segments[0], Pos: p.Pos, Message: "is not a column of " + cte.Name}
	}
	return idx, nil
}

func checkRecursiveMember(cte *queryir.CTE, member queryir.QueryPart, pos int) error {
	sel := member.FirstSpec().Selection
	if len(sel) != len(cte.Columns) {
		return &TypeMismatchError{
			Left:    fmt.Sprintf("%d columns", len(cte.Columns)),
			Right:   fmt.Sprintf("%d selected items", len(sel)),
			Context: "recursive member of " + cte.Name,
			Pos:     pos,
		}
	}
	for i, col := range cte.Columns {
		if got := sel[i].Expr.Type(); !assignable(col.Type, got) {
			return &TypeMismatchError{
				Left:    col.Type.String(),
				Right:   got.String(),
				Context: fmt.Sprintf("column '%s' of the recursive member of %s", col.Name, cte.Name),
				Pos:     pos,
			}
		}
	}
	return nil
}

func references(part queryir.QueryPart, cte *queryir.CTE) bool {
	found := false
	queryir.Inspect(part, func(n any) bool {
		if r, ok := n.(*queryir.Range); ok && r.CTE == cte {
			found = true
		}
		return !found
	})
	return found
}

// cteRangeColumns are the columns a range over cte exposes: the selected
// ones followed by the search and cycle bookkeeping columns.
func cteRangeColumns(cte *queryir.CTE) []*queryir.Column {
	cols := append([]*queryir.Column(nil), cte.Columns...)
	if cte.Search != nil {
		cols = append(cols, &queryir.Column{Name: cte.Search.SetColumn})
	}
	if cy := cte.Cycle; cy != nil {
		cols = append(cols, &queryir.Column{Name: cy.SetColumn, Type: queryir.BasicOf(cy.MarkType)})
		if cy.UsingColumn != "" {
			cols = append(cols, &queryir.Column{Name: cy.UsingColumn, Type: queryir.BasicOf(metamodel.TypeString)})
		}
	}
	return cols
}

// selectionColumns names and types the columns a derived table or CTE
// produces. Entity-valued items are stored as their identifier.
func (b *binder) selectionColumns(q *queryir.SelectStatement, names []string, owner string, pos int) ([]*queryir.Column, error) {
	sel := q.Body.FirstSpec().Selection
	if names != nil && len(names) != len(sel) {
		return nil, &TypeMismatchError{
			Left:    fmt.Sprintf("%d column names", len(names)),
			Right:   fmt.Sprintf("%d selected items", len(sel)),
			Context: owner,
			Pos:     pos,
		}
	}
	cols := make([]*queryir.Column, len(sel))
	seen := map[string]bool{}
	for i, item := range sel {
		if _, ok := item.Expr.(*queryir.Instantiation); ok {
			return nil, &TypeMismatchError{Left: "instantiation", Context: "column of " + owner, Pos: pos}
		}
		var name string
		switch {
		case names != nil:
			name = names[i]
		case item.Alias != "":
			name = item.Alias
		default:
			name = inferredName(item.Expr)
		}
		if name == "" {
			return nil, &PathResolutionError{Path: owner, Pos: pos, Message: fmt.Sprintf("selected item %d needs an alias", i+1)}
		}
		if seen[fold(name)] {
			return nil, &AmbiguousAliasError{Alias: name, Pos: pos, Message: "column name is used twice in " + owner}
		}
		seen[fold(name)] = true
		cols[i] = &queryir.Column{Name: name}
	}
	if err := b.identifierSelections(q.Body, pos); err != nil {
		return nil, err
	}
	for i, item := range sel {
		cols[i].Type = item.Expr.Type()
	}
	return cols, nil
}

func inferredName(e queryir.Expression) string {
	switch x := e.(type) {
	case *queryir.AttributeRef:
		if x.Via != nil {
			return x.Via.Name()
		}
		return x.Attribute().Name()
	case *queryir.DerivedRef:
		return x.Name()
	case *queryir.FKRef:
		return x.Attribute.Name()
	case *queryir.EntityRef:
		if x.Range.Attribute != nil {
			return x.Range.Attribute.Name()
		}
		return x.Range.Alias
	}
	return ""
}

func (b *binder) identifierSelections(part queryir.QueryPart, pos int) error {
	switch p := part.(type) {
	case *queryir.QuerySpec:
		for _, item := range p.Selection {
			v, err := b.identifierValue(item.Expr, pos)
			if err != nil {
				return err
			}
			item.Expr = v
		}
	case *queryir.SetOperation:
		if err := b.identifierSelections(p.Left, pos); err != nil {
			return err
		}
		return b.identifierSelections(p.Right, pos)
	}
	return nil
}

// identifierValue replaces an entity-valued expression by its simple
// identifier.
func (b *binder) identifierValue(e queryir.Expression, pos int) (queryir.Expression, error) {
	switch x := e.(type) {
	case *queryir.EntityRef:
		id := x.Range.Entity.ID()
		if id.Kind() != metamodel.KindBasic {
			return nil, &TypeMismatchError{Left: x.Range.Entity.Name(), Context: "entity with a composite identifier as a derived column", Pos: pos}
		}
		return &queryir.AttributeRef{Range: x.Range, Path: []*metamodel.Attribute{id}}, nil
	case *queryir.FKRef:
		if x.Attribute.ReferencedKey() != "" {
			return b.identifierValue(b.widen(x), pos)
		}
		id := x.Attribute.Target().ID()
		if id.Kind() != metamodel.KindBasic {
			return nil, &TypeMismatchError{Left: id.Declarer().TypeName(), Context: "entity with a composite identifier as a derived column", Pos: pos}
		}
		return &queryir.AttributeRef{Range: x.Range, Path: []*metamodel.Attribute{id}, Via: x.Attribute}, nil
	}
	return e, nil
}
