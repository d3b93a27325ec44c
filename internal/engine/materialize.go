package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/sqlast"
	"github.com/roach88/oql/internal/store"
)

// materializer turns the rows of one statement into result values,
// resolving every entity through the session's persistence context.
//
// Work that needs another statement is queued and run by finish once the
// cursor is closed: join-fetched associations that were not joined are
// loaded, subselect groups are registered, fetched collections are marked
// initialized.
type materializer struct {
	s    *Session
	pc   *persist.Context
	plan *querysql.Plan
	vals *paramValues
	text string

	// prev holds, per entity shape, the identifier columns and entity of
	// the previous row so repeated identities skip key computation.
	prev  map[*querysql.EntityShape]*prevRow
	roots map[any]struct{}

	fetched    []*persist.PersistentCollection
	fetchedSet map[*persist.PersistentCollection]struct{}

	subselect      map[subselectKey][]*persist.PersistentCollection
	subselectOrder []subselectKey

	eagerRefs  []*persist.LazyReference
	eagerColls []*persist.PersistentCollection
}

type prevRow struct {
	raw []any
	e   *loaded
}

// loaded is an entity a row resolved to.
type loaded struct {
	inst  any
	typ   *metamodel.EntityType
	key   persist.EntityKey
	id    any
	fresh bool
}

type subselectKey struct {
	attr  *metamodel.Attribute
	owner *queryir.Range
}

func newMaterializer(s *Session, plan *querysql.Plan, vals *paramValues, text string) *materializer {
	return &materializer{
		s:          s,
		pc:         s.pc,
		plan:       plan,
		vals:       vals,
		text:       text,
		prev:       make(map[*querysql.EntityShape]*prevRow),
		roots:      make(map[any]struct{}),
		fetchedSet: make(map[*persist.PersistentCollection]struct{}),
		subselect:  make(map[subselectKey][]*persist.PersistentCollection),
	}
}

// row materializes one row. keep is false for a row that repeats a root
// already returned by a distinct-roots query.
func (m *materializer) row(row []any) (v any, keep bool, err error) {
	items := m.plan.Shape.Items
	if len(items) == 1 {
		v, err := m.item(items[0], row)
		if err != nil {
			return nil, false, err
		}
		if m.plan.Shape.DistinctRoots && v != nil {
			if _, seen := m.roots[v]; seen {
				return nil, false, nil
			}
			m.roots[v] = struct{}{}
		}
		return v, true, nil
	}
	tuple := make([]any, len(items))
	for i, it := range items {
		if tuple[i], err = m.item(it, row); err != nil {
			return nil, false, err
		}
	}
	return tuple, true, nil
}

func (m *materializer) item(it *querysql.ResultItem, row []any) (any, error) {
	switch it.Kind {
	case querysql.ItemEntity:
		l, err := m.entity(it.Entity, row)
		if err != nil || l == nil {
			return nil, err
		}
		return l.inst, nil
	case querysql.ItemEmbedded:
		return m.value(it.Embedded, row)
	case querysql.ItemEntityType:
		if row[it.Column] == nil {
			return nil, nil
		}
		return it.ResolveEntityType(row[it.Column]), nil
	case querysql.ItemInstantiation:
		args := make([]any, len(it.Args))
		for i, a := range it.Args {
			v, err := m.item(a, row)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return m.instantiate(it, args)
	default:
		v := row[it.Column]
		if b, ok := v.([]byte); ok && it.Type == metamodel.TypeUnknown {
			return string(b), nil
		}
		return it.Type.Convert(v)
	}
}

func (m *materializer) instantiate(it *querysql.ResultItem, args []any) (any, error) {
	switch it.Target {
	case "list":
		return args, nil
	case "map":
		out := make(map[string]any, len(args))
		for i, a := range it.Args {
			k := a.Alias
			if k == "" {
				k = strconv.Itoa(i)
			}
			out[k] = args[i]
		}
		return out, nil
	}
	fn, ok := m.s.f.instantiators[it.Target]
	if !ok {
		return nil, fmt.Errorf("no instantiator registered for %q", it.Target)
	}
	return fn(args)
}

// entity resolves the entity es describes in row: nil for a null
// identifier, the registered instance when the key is known, otherwise a
// new registered and hydrated instance. Fetch joins are merged in every
// case.
func (m *materializer) entity(es *querysql.EntityShape, row []any) (*loaded, error) {
	raw := rawColumns(es.ID, row, nil)
	if allNil(raw) {
		return nil, nil
	}
	var l *loaded
	if p, ok := m.prev[es]; ok && sameRow(p.raw, raw) {
		l = p.e
	} else {
		var err error
		if l, err = m.resolve(es, row); err != nil {
			return nil, err
		}
		m.prev[es] = &prevRow{raw: raw, e: l}
	}
	if err := m.fetches(es, l, row); err != nil {
		return nil, err
	}
	return l, nil
}

func (m *materializer) resolve(es *querysql.EntityShape, row []any) (*loaded, error) {
	id, err := m.value(es.ID, row)
	if err != nil {
		return nil, err
	}
	key, err := persist.NewEntityKey(es.Entity, id)
	if err != nil {
		return nil, err
	}
	if entry, ok := m.pc.Lookup(key); ok {
		return &loaded{inst: entry.Instance, typ: entry.Type, key: key, id: id}, nil
	}
	concrete := es.Entity
	if es.Discriminator >= 0 {
		concrete = es.Concrete(row[es.Discriminator])
	}
	if concrete.Abstract() {
		return nil, fmt.Errorf("row %s resolves to abstract type %s", key, concrete.Name())
	}
	inst := concrete.New()
	concrete.ID().Set(inst, id)
	if _, err := m.pc.Register(key, concrete, inst); err != nil {
		return nil, err
	}
	l := &loaded{inst: inst, typ: concrete, key: key, id: id, fresh: true}
	if err := m.hydrate(es, l, row); err != nil {
		return nil, err
	}
	if err := m.registerUniqueKeys(l); err != nil {
		return nil, err
	}
	m.s.f.metrics.EntitiesLoaded.Inc()
	return l, nil
}

// hydrate sets the attributes of a new instance. Associations become
// references and collections of the persistence context; none is loaded
// here.
func (m *materializer) hydrate(es *querysql.EntityShape, l *loaded, row []any) error {
	for _, as := range es.Attributes {
		a := as.Attribute
		if !declaredBy(l.typ, a) {
			continue
		}
		switch a.Kind() {
		case metamodel.KindBasic, metamodel.KindEmbedded:
			v, err := m.value(as, row)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", l.typ.Name(), a.Name(), err)
			}
			a.Set(l.inst, v)
		case metamodel.KindToOne:
			var ref *persist.LazyReference
			if a.IsOwningToOne() {
				var err error
				if ref, err = m.owningReference(a, as, row); err != nil {
					return fmt.Errorf("%s.%s: %w", l.typ.Name(), a.Name(), err)
				}
			} else {
				ref = m.pc.Reference(persist.InverseKey(a, l.key), l.id)
			}
			if ref == nil {
				a.Set(l.inst, nil)
				continue
			}
			a.Set(l.inst, ref)
			if a.Fetch() == metamodel.FetchJoin {
				m.eagerRefs = append(m.eagerRefs, ref)
			}
		case metamodel.KindToMany:
			c := m.pc.Collection(persist.CollectionKey{Role: a.Role(), Owner: l.key}, a, l.inst)
			a.Set(l.inst, c)
			switch a.Fetch() {
			case metamodel.FetchJoin:
				m.eagerColls = append(m.eagerColls, c)
			case metamodel.FetchSubselect:
				k := subselectKey{attr: a, owner: es.Range}
				if _, ok := m.subselect[k]; !ok {
					m.subselectOrder = append(m.subselectOrder, k)
				}
				m.subselect[k] = append(m.subselect[k], c)
			}
		}
	}
	return nil
}

// owningReference builds the reference an owning to-one's foreign key
// columns point at, nil when they are all null.
func (m *materializer) owningReference(a *metamodel.Attribute, as *querysql.AttributeShape, row []any) (*persist.LazyReference, error) {
	fk := make([]any, len(as.Columns))
	for i, c := range as.Columns {
		fk[i] = row[c]
	}
	if allNil(fk) {
		return nil, nil
	}
	target := a.Target()
	if name := a.ReferencedKey(); name != "" {
		key, err := persist.NewUniqueKey(target, name, fk)
		if err != nil {
			return nil, err
		}
		return m.pc.Reference(key, fk), nil
	}
	id, _, err := buildValue(target.ID(), fk)
	if err != nil {
		return nil, err
	}
	key, err := persist.NewEntityKey(target, id)
	if err != nil {
		return nil, err
	}
	return m.pc.Reference(key, id), nil
}

// registerUniqueKeys indexes a new instance under each unique key whose
// members are all set.
func (m *materializer) registerUniqueKeys(l *loaded) error {
	for _, name := range l.typ.UniqueKeyNames() {
		var values []any
		complete := true
		for _, a := range l.typ.UniqueKey(name) {
			if a.Kind() != metamodel.KindBasic && a.Kind() != metamodel.KindEmbedded {
				complete = false
				break
			}
			vs, err := persist.IdentifierValues(a, a.Get(l.inst))
			if err != nil {
				return err
			}
			values = append(values, vs...)
		}
		if !complete || len(values) == 0 || anyNil(values) {
			continue
		}
		key, err := persist.NewUniqueKey(l.typ, name, values)
		if err != nil {
			return err
		}
		m.pc.RegisterUniqueKey(key, l.inst)
	}
	return nil
}

// fetches merges the fetch joined associations of row into l, whether l
// was created by this row or found in the persistence context.
func (m *materializer) fetches(es *querysql.EntityShape, l *loaded, row []any) error {
	for _, f := range es.Fetches {
		a := f.Attribute
		target, err := m.entity(f.Target, row)
		if err != nil {
			return err
		}
		if !declaredBy(l.typ, a) {
			continue
		}
		switch a.Kind() {
		case metamodel.KindToOne:
			if target == nil {
				m.missingTarget(es, l, a, row)
				continue
			}
			a.Set(l.inst, m.pc.Reference(target.key, target.id))
		case metamodel.KindToMany:
			c := m.pc.Collection(persist.CollectionKey{Role: a.Role(), Owner: l.key}, a, l.inst)
			if cur, _ := a.Get(l.inst).(*persist.PersistentCollection); cur != c {
				a.Set(l.inst, c)
			}
			if _, filling := m.fetchedSet[c]; !filling {
				if c.State() == persist.Initialized {
					continue
				}
				m.fetchedSet[c] = struct{}{}
				m.fetched = append(m.fetched, c)
			}
			if target != nil {
				c.Add(target.inst)
			}
		}
	}
	return nil
}

// missingTarget handles a fetch joined to-one whose target row is absent.
// The association is only cleared when that agrees with what the session
// knows: an owner row still carrying a foreign key, or an already resolved
// target, keeps its value and records a warning.
func (m *materializer) missingTarget(es *querysql.EntityShape, l *loaded, a *metamodel.Attribute, row []any) {
	if a.IsOwningToOne() {
		if fk := foreignKey(es, a, row); fk != nil {
			m.s.warn(&InconsistentAssociationState{Owner: l.key, Attribute: a.Name(), ForeignKey: fk})
			return
		}
	}
	if ref, ok := a.Get(l.inst).(*persist.LazyReference); ok && !l.fresh && ref.Peek() != nil {
		m.s.warn(&InconsistentAssociationState{Owner: l.key, Attribute: a.Name()})
		return
	}
	a.Set(l.inst, nil)
}

// value reads a basic or embedded attribute. An embedded value whose
// members are all null is nil.
func (m *materializer) value(as *querysql.AttributeShape, row []any) (any, error) {
	a := as.Attribute
	if a.Kind() != metamodel.KindEmbedded {
		return a.Type().Convert(row[as.Column])
	}
	inst := a.Embeddable().New()
	empty := true
	for _, ms := range as.Members {
		v, err := m.value(ms, row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ms.Attribute.Name(), err)
		}
		if v != nil {
			empty = false
		}
		ms.Attribute.Set(inst, v)
	}
	if empty {
		return nil, nil
	}
	return inst, nil
}

// flushFetched marks the collections filled by fetch joins initialized.
func (m *materializer) flushFetched() {
	for _, c := range m.fetched {
		c.MarkInitialized()
	}
	m.s.f.metrics.CollectionsLoaded.Add(float64(len(m.fetched)))
	m.fetched = nil
}

// finish completes the statement after its cursor closed.
func (m *materializer) finish(ctx context.Context) error {
	m.flushFetched()
	for _, k := range m.subselectOrder {
		var pending []*persist.PersistentCollection
		for _, c := range m.subselect[k] {
			if c.State() == persist.Uninitialized {
				pending = append(pending, c)
			}
		}
		if len(pending) == 0 {
			continue
		}
		stmt, ok, err := querysql.SubselectLoader(k.attr, m.plan, k.owner)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		m.pc.AddSubselectGroup(&persist.SubselectGroup{
			Attribute:   k.attr,
			Collections: pending,
			Query:       &subselectQuery{text: m.text, stmt: stmt, opts: m.plan.Options, vals: m.vals},
		})
	}
	for _, r := range m.eagerRefs {
		if _, err := r.Get(ctx); err != nil && !persist.IsEntityNotFoundError(err) {
			return err
		}
	}
	for _, c := range m.eagerColls {
		if _, err := c.Get(ctx); err != nil {
			return err
		}
	}
	return nil
}

// list runs a select and materializes every row. Paging that could not be
// rendered because rows repeat roots is applied to the roots.
func (s *Session) list(ctx context.Context, plan *querysql.Plan, vals *paramValues, opts store.Options, text string) ([]any, error) {
	args, err := s.resolveArgs(ctx, plan.Bindings, vals)
	if err != nil {
		return nil, err
	}
	offset, limit, err := s.window(ctx, plan, vals)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, plan, args, opts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := newMaterializer(s, plan, vals, text)
	var out []any
	for rows.Next() {
		v, keep, err := m.row(rows.Row())
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := m.finish(ctx); err != nil {
		return nil, err
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// scroll is list yielding results as rows arrive. A distinct root is held
// back until a row of another root shows up, so its fetched collections
// are complete when the caller sees it.
func (s *Session) scroll(ctx context.Context, plan *querysql.Plan, vals *paramValues, opts store.Options, text string, yield func(any, error) bool) {
	args, err := s.resolveArgs(ctx, plan.Bindings, vals)
	if err != nil {
		yield(nil, err)
		return
	}
	offset, limit, err := s.window(ctx, plan, vals)
	if err != nil {
		yield(nil, err)
		return
	}
	rows, err := s.query(ctx, plan, args, opts)
	if err != nil {
		yield(nil, err)
		return
	}
	defer rows.Close()

	m := newMaterializer(s, plan, vals, text)
	emitted := 0
	// emit reports whether iteration should go on.
	emit := func(v any) bool {
		if offset > 0 {
			offset--
			return true
		}
		if limit >= 0 && emitted >= limit {
			return false
		}
		emitted++
		return yield(v, nil)
	}
	var held any
	holding := false
	for rows.Next() {
		v, keep, err := m.row(rows.Row())
		if err != nil {
			yield(nil, err)
			return
		}
		if !keep {
			continue
		}
		if !plan.Shape.DistinctRoots {
			if !emit(v) {
				return
			}
			continue
		}
		if holding {
			m.flushFetched()
			if !emit(held) {
				return
			}
		}
		held, holding = v, true
	}
	if err := rows.Err(); err != nil {
		yield(nil, err)
		return
	}
	if err := rows.Close(); err != nil {
		yield(nil, err)
		return
	}
	if err := m.finish(ctx); err != nil {
		yield(nil, err)
		return
	}
	if holding {
		emit(held)
	}
}

// window reads the in-memory paging of a distinct-roots plan; limit is -1
// when unbounded.
func (s *Session) window(ctx context.Context, plan *querysql.Plan, vals *paramValues) (offset, limit int, err error) {
	limit = -1
	read := func(b *sqlast.Binding) (int, error) {
		v, err := s.bindingValue(ctx, *b, vals)
		if err != nil {
			return 0, err
		}
		n, err := metamodel.TypeInteger.Convert(v)
		if err != nil || n == nil {
			return 0, fmt.Errorf("paging value %v: %w", v, err)
		}
		return int(n.(int64)), nil
	}
	if plan.Offset != nil {
		if offset, err = read(plan.Offset); err != nil {
			return 0, 0, err
		}
	}
	if plan.Limit != nil {
		if limit, err = read(plan.Limit); err != nil {
			return 0, 0, err
		}
	}
	return max(offset, 0), limit, nil
}

// buildValue assembles a basic or embedded value from leaf values in
// declaration order and returns the unused rest.
func buildValue(a *metamodel.Attribute, leaves []any) (any, []any, error) {
	if a.Kind() != metamodel.KindEmbedded {
		v, err := a.Type().Convert(leaves[0])
		return v, leaves[1:], err
	}
	inst := a.Embeddable().New()
	for _, mbr := range a.Embeddable().Attributes() {
		v, rest, err := buildValue(mbr, leaves)
		if err != nil {
			return nil, nil, err
		}
		mbr.Set(inst, v)
		leaves = rest
	}
	return inst, leaves, nil
}

// rawColumns appends the raw column values of a basic or embedded shape.
func rawColumns(as *querysql.AttributeShape, row, out []any) []any {
	if len(as.Members) == 0 {
		return append(out, row[as.Column])
	}
	for _, ms := range as.Members {
		out = rawColumns(ms, row, out)
	}
	return out
}

func foreignKey(es *querysql.EntityShape, a *metamodel.Attribute, row []any) []any {
	for _, as := range es.Attributes {
		if as.Attribute != a {
			continue
		}
		fk := make([]any, len(as.Columns))
		for i, c := range as.Columns {
			fk[i] = row[c]
		}
		if allNil(fk) {
			return nil
		}
		return fk
	}
	return nil
}

// sameRow compares raw identifier columns of two rows.
func sameRow(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, xb := a[i].([]byte)
		y, yb := b[i].([]byte)
		switch {
		case xb || yb:
			if !xb || !yb || string(x) != string(y) {
				return false
			}
		case a[i] != b[i]:
			return false
		}
	}
	return true
}

func declaredBy(t *metamodel.EntityType, a *metamodel.Attribute) bool {
	decl := declaringEntity(a)
	return decl == nil || t.IsSubtypeOf(decl)
}

func allNil(vs []any) bool {
	for _, v := range vs {
		if v != nil {
			return false
		}
	}
	return true
}

func anyNil(vs []any) bool {
	for _, v := range vs {
		if v == nil {
			return true
		}
	}
	return false
}
