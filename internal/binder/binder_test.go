package binder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/binder"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/testutil"
)

func bind(t *testing.T, text string) queryir.Statement {
	t.Helper()
	stmt, err := binder.BindText(text, testutil.SampleModel(), binder.Options{Instantiations: []string{"PersonSummary"}})
	require.NoError(t, err)
	require.NoError(t, queryir.Validate(stmt))
	return stmt
}

func firstSpec(t *testing.T, stmt queryir.Statement) *queryir.QuerySpec {
	t.Helper()
	sel, ok := stmt.(*queryir.SelectStatement)
	require.True(t, ok, "expected a select, got %T", stmt)
	return sel.Body.FirstSpec()
}

func conjuncts(p queryir.Predicate) []queryir.Predicate {
	if j, ok := p.(*queryir.Junction); ok && !j.Or {
		return j.Predicates
	}
	return []queryir.Predicate{p}
}

func TestBind_ImplicitJoinReuse(t *testing.T) {
	q := firstSpec(t, bind(t, `select p from Person p where p.employer.name = 'Acme' and p.employer.code = 'AC'`))
	p := q.From[0]
	require.Len(t, p.Joins, 1)
	join := p.Joins[0]
	assert.True(t, join.Implicit)
	assert.Equal(t, queryir.JoinInner, join.Join)
	assert.Equal(t, "Company", join.Entity.Name())

	preds := conjuncts(q.Where)
	require.Len(t, preds, 2)
	for _, pred := range preds {
		ref := pred.(*queryir.Comparison).Left.(*queryir.AttributeRef)
		assert.Same(t, join, ref.Range)
	}
}

func TestBind_SelectJoinIsLeftUntilFiltered(t *testing.T) {
	q := firstSpec(t, bind(t, `select p.employer from Person p`))
	require.Len(t, q.From[0].Joins, 1)
	assert.Equal(t, queryir.JoinLeft, q.From[0].Joins[0].Join)
	ref, ok := q.Selection[0].Expr.(*queryir.EntityRef)
	require.True(t, ok)
	assert.Same(t, q.From[0].Joins[0], ref.Range)

	q = firstSpec(t, bind(t, `select p.employer.name from Person p where p.employer.code = 'AC'`))
	require.Len(t, q.From[0].Joins, 1)
	assert.Equal(t, queryir.JoinInner, q.From[0].Joins[0].Join)
}

func TestBind_NullCheckUsesForeignKey(t *testing.T) {
	q := firstSpec(t, bind(t, `from Person p where p.employer is null`))
	assert.Empty(t, q.From[0].Joins)
	check := q.Where.(*queryir.NullCheck)
	fk, ok := check.X.(*queryir.FKRef)
	require.True(t, ok)
	assert.Equal(t, "employer", fk.Attribute.Name())
}

func TestBind_NullCheckThroughRestrictedJoin(t *testing.T) {
	q := firstSpec(t, bind(t, `from Person p left join p.employer e with e.name = 'Acme' where p.employer is null`))
	e := q.From[0].Joins[0]
	assert.True(t, e.Restricted)
	ref, ok := q.Where.(*queryir.NullCheck).X.(*queryir.EntityRef)
	require.True(t, ok)
	assert.Same(t, e, ref.Range)
}

func TestBind_NullCheckOnJoinedAlias(t *testing.T) {
	q := firstSpec(t, bind(t, `from Person p left join p.employer e where e is null`))
	ref, ok := q.Where.(*queryir.NullCheck).X.(*queryir.EntityRef)
	require.True(t, ok)
	assert.Equal(t, "e", ref.Range.Alias)
}

func TestBind_ForeignKeyIdentifier(t *testing.T) {
	q := firstSpec(t, bind(t, `from Person p where p.employer.id = 1`))
	assert.Empty(t, q.From[0].Joins)
	ref := q.Where.(*queryir.Comparison).Left.(*queryir.AttributeRef)
	require.NotNil(t, ref.Via)
	assert.Equal(t, []string{"employer_id"}, ref.Columns())

	// a unique-key reference has no primary key columns to read
	q = firstSpec(t, bind(t, `from Person p where p.employerByCode.id = 1`))
	assert.Len(t, q.From[0].Joins, 1)
}

func TestBind_EntityComparisonKeys(t *testing.T) {
	testCases := []struct {
		name      string
		query     string
		wantKey   string
		wantJoins int
	}{
		{"shared unique key", `select p from Person p, Company c where p.employerByCode = c`, "code", 0},
		{"primary keys", `select p from Person p, Company c where p.employer = c`, "", 0},
		{"element widens the unique key side", `select p from Person p, Company c where p.employerByCode = element(c.partners)`, "", 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := firstSpec(t, bind(t, tc.query))
			cmp := q.Where.(*queryir.Comparison)
			left := cmp.Left.(*queryir.KeyTuple)
			right := cmp.Right.(*queryir.KeyTuple)
			assert.Equal(t, tc.wantKey, left.Key)
			assert.Equal(t, tc.wantKey, right.Key)
			assert.Len(t, q.From[0].Joins, tc.wantJoins)
		})
	}
}

func TestBind_ElementOfJoinTableIsKeyOnly(t *testing.T) {
	q := firstSpec(t, bind(t, `select p from Person p, Company c where p.employerByCode = element(c.partners)`))
	c := q.From[1]
	require.Len(t, c.Joins, 1)
	assert.True(t, c.Joins[0].KeyOnly)
	assert.NotNil(t, c.Joins[0].Attribute.JoinTable())

	q = firstSpec(t, bind(t, `select element(c.partners) from Company c`))
	assert.False(t, q.From[0].Joins[0].KeyOnly)
}

func TestBind_EntityParameterKey(t *testing.T) {
	stmt := bind(t, `from Person p where p.employerByCode = :company`)
	slot := stmt.Parameters().Lookup(":company")
	require.NotNil(t, slot)
	assert.Equal(t, "Company", slot.Type.Entity.Name())
	require.Len(t, slot.Key, 1)
	assert.Equal(t, "code", slot.Key[0].Name())

	stmt = bind(t, `from Person p where p.employer in (:a, :b)`)
	assert.Equal(t, "id", stmt.Parameters().Lookup(":a").Key[0].Name())
}

func TestBind_ParameterInference(t *testing.T) {
	stmt := bind(t, `from Person p where p.id in :ids and p.name like ?1 and p.age between :lo and :hi`)
	params := stmt.Parameters()
	ids := params.Lookup(":ids")
	assert.True(t, ids.Multi)
	assert.Equal(t, metamodel.TypeInteger, ids.Type.Basic)
	assert.Equal(t, metamodel.TypeString, params.Lookup("?1").Type.Basic)
	assert.Equal(t, metamodel.TypeInteger, params.Lookup(":hi").Type.Basic)
}

func TestBind_PolymorphicAttribute(t *testing.T) {
	q := firstSpec(t, bind(t, `from Pet p where p.barks = true`))
	ref := q.Where.(*queryir.Comparison).Left.(*queryir.AttributeRef)
	assert.Equal(t, "Dog", ref.Declarer().Name())

	_, err := binder.BindText(`from Pet p where p.tag = 'x'`, testutil.SampleModel(), binder.Options{})
	require.Error(t, err)
	assert.True(t, binder.IsTypeMismatchError(err))
	assert.Contains(t, err.Error(), "Dog.tag string vs Cat.tag integer")
}

func TestBind_TreatAddsTypeRestriction(t *testing.T) {
	q := firstSpec(t, bind(t, `from Pet p where treat(p as Dog).barks = true or p.name = 'Tom'`))
	or := q.Where.(*queryir.Junction)
	require.True(t, or.Or)
	left := or.Predicates[0].(*queryir.Junction)
	restriction := left.Predicates[0].(*queryir.TypeRestriction)
	assert.Equal(t, "Dog", restriction.Types[0].Name())
	assert.IsType(t, &queryir.Comparison{}, left.Predicates[1])
}

func TestBind_TypeComparison(t *testing.T) {
	q := firstSpec(t, bind(t, `from Pet p where type(p) = Cat`))
	r := q.Where.(*queryir.TypeRestriction)
	require.Len(t, r.Types, 1)
	assert.Equal(t, "Cat", r.Types[0].Name())
	assert.False(t, r.Negated)

	q = firstSpec(t, bind(t, `from Pet p where type(p) not in (Cat, Dog)`))
	r = q.Where.(*queryir.TypeRestriction)
	assert.Len(t, r.Types, 2)
	assert.True(t, r.Negated)
}

func TestBind_ImplicitSelection(t *testing.T) {
	q := firstSpec(t, bind(t, `from Person p join p.pets x, Company c`))
	assert.True(t, q.ImplicitSelection)
	require.Len(t, q.Selection, 2)
	assert.Equal(t, "p", q.Selection[0].Expr.(*queryir.EntityRef).Range.Alias)
	assert.Equal(t, "c", q.Selection[1].Expr.(*queryir.EntityRef).Range.Alias)
}

func TestBind_CorrelatedImplicitJoin(t *testing.T) {
	q := firstSpec(t, bind(t, `from Person p where exists (select 1 from Pet x where x.name = p.employer.name)`))
	assert.Empty(t, q.From[0].Joins)
	sub := firstSpec(t, q.Where.(*queryir.Exists).Query)
	require.Len(t, sub.From, 2)
	assert.True(t, sub.From[1].Correlated)
	assert.Equal(t, "p", sub.From[1].Parent.Alias)
}

func TestBind_DerivedAndLateral(t *testing.T) {
	q := firstSpec(t, bind(t, `select d.total from (select sum(x.age) as total from Person x) d`))
	d := q.From[0]
	assert.Equal(t, queryir.RangeDerived, d.Kind)
	assert.False(t, d.Lateral)
	assert.Equal(t, "total", d.Columns[0].Name)

	q = firstSpec(t, bind(t, `select p.name, d.n from Person p join lateral (select count(x) as n from Pet x where x.owner = p) d on 1 = 1`))
	assert.True(t, q.From[0].Joins[0].Lateral)
}

func TestBind_OrderBy(t *testing.T) {
	stmt := bind(t, `select p.name as n, p.age from Person p order by n, 2 desc, p.employer`).(*queryir.SelectStatement)
	q := stmt.Body.FirstSpec()
	require.Len(t, stmt.OrderBy, 3)
	assert.Same(t, q.Selection[0].Expr, stmt.OrderBy[0].Expr)
	assert.Same(t, q.Selection[1].Expr, stmt.OrderBy[1].Expr)
	assert.True(t, stmt.OrderBy[1].Desc)
	assert.IsType(t, &queryir.FKRef{}, stmt.OrderBy[2].Expr)
}

func TestBind_GroupByReusesSelectedJoin(t *testing.T) {
	q := firstSpec(t, bind(t, `select p.employer, count(p) from Person p group by p.employer`))
	selected := q.Selection[0].Expr.(*queryir.EntityRef)
	grouped := q.GroupBy[0].(*queryir.EntityRef)
	assert.Same(t, selected.Range, grouped.Range)
}

func TestBind_RecursiveCTE(t *testing.T) {
	stmt := bind(t, `with recursive tree(id, parent, depth) as (
		select n.id, n.parent.id, 0 from Node n where n.parent is null
		union all
		select c.id, c.parent.id, t.depth + 1 from Node c join tree t on c.parent.id = t.id
	) search depth first by id set ord
	  cycle id set looped to 'Y' default 'N' using trail
	select t.id, t.ord, t.looped from tree t`).(*queryir.SelectStatement)

	require.Len(t, stmt.CTEs, 1)
	cte := stmt.CTEs[0]
	assert.True(t, cte.Recursive)
	assert.Equal(t, metamodel.TypeInteger, cte.Columns[1].Type.Basic)
	require.NotNil(t, cte.Search)
	assert.Equal(t, []queryir.CTESort{{Column: 0}}, cte.Search.By)
	require.NotNil(t, cte.Cycle)
	assert.Equal(t, metamodel.TypeString, cte.Cycle.MarkType)
	assert.Equal(t, "trail", cte.Cycle.UsingColumn)

	t0 := stmt.Body.FirstSpec().From[0]
	assert.Equal(t, []string{"id", "parent", "depth", "ord", "looped", "trail"}, columnNames(t0.Columns))
}

func columnNames(cols []*queryir.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func TestBind_DML(t *testing.T) {
	up := bind(t, `update Person p set p.age = p.age + 1, p.employer = :c where p.name = :n`).(*queryir.UpdateStatement)
	require.Len(t, up.Assignments, 2)
	assert.IsType(t, &queryir.AttributeRef{}, up.Assignments[0].Target)
	assert.IsType(t, &queryir.FKRef{}, up.Assignments[1].Target)
	assert.Equal(t, "id", up.Params.Lookup(":c").Key[0].Name())

	del := bind(t, `delete from Pet x where x.owner.name = 'Ada'`).(*queryir.DeleteStatement)
	assert.Len(t, del.Target.Joins, 1)
}

func TestBind_Instantiation(t *testing.T) {
	q := firstSpec(t, bind(t, `select new PersonSummary(p.name, p.age as years) from Person p`))
	inst := q.Selection[0].Expr.(*queryir.Instantiation)
	assert.Equal(t, "PersonSummary", inst.Target)
	assert.Equal(t, "years", inst.Args[1].Alias)

	q = firstSpec(t, bind(t, `select new map(p.name as name) from Person p`))
	assert.Equal(t, "map", q.Selection[0].Expr.(*queryir.Instantiation).Target)
}

func TestBind_SimpleCaseBecomesSearched(t *testing.T) {
	q := firstSpec(t, bind(t, `select case p.age when 1 then 'one' else 'many' end from Person p`))
	c := q.Selection[0].Expr.(*queryir.CaseExpr)
	assert.IsType(t, &queryir.Comparison{}, c.Whens[0].Cond)
	assert.Equal(t, metamodel.TypeString, c.T.Basic)
}

func TestBind_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		query string
		check func(error) bool
		want  string
	}{
		{"unknown attribute", `from Person p where p.nme = 'x'`, binder.IsPathResolutionError, "Person has no attribute 'nme'"},
		{"unknown entity", `from Persn p`, binder.IsPathResolutionError, "unknown entity"},
		{"unknown alias", `from Person p where q.name = 'x'`, binder.IsPathResolutionError, "neither an alias"},
		{"duplicate alias", `from Person p, Company p`, binder.IsAmbiguousAliasError, "already declared"},
		{"ambiguous unqualified", `from Person p, Company c where name = 'x'`, binder.IsAmbiguousAliasError, "matches both p and c"},
		{"string vs integer", `from Person p where p.name = 1`, binder.IsTypeMismatchError, "string vs integer"},
		{"entity vs basic", `from Person p where p.employer = p.name`, binder.IsTypeMismatchError, "entity comparison"},
		{"entity ordering", `from Person p, Company c where p.employer < c`, binder.IsTypeMismatchError, "= and <> only"},
		{"basic dereference", `from Person p where p.name.first = 'x'`, binder.IsPathResolutionError, "cannot be dereferenced"},
		{"treat outside hierarchy", `from Pet p where treat(p as Car).doors = 2`, binder.IsTypeMismatchError, "outside the hierarchy"},
		{"union width", `select p.name from Person p union select c.name, c.code from Company c`, binder.IsTypeMismatchError, "1 selected items vs 2 selected items"},
		{"unknown instantiation", `select new Widget(p.name) from Person p`, binder.IsPathResolutionError, "unknown instantiation target"},
		{"recursive member width", `with recursive t(id) as (select n.id from Node n union all select c.id, c.name from Node c join t x on c.parent.id = x.id) select t.id from t`,
			binder.IsTypeMismatchError, "recursive member of t"},
		{"recursive member type", `with recursive t(id) as (select n.id from Node n union all select c.name from Node c join t x on c.parent.id = x.id) select t.id from t`,
			binder.IsTypeMismatchError, "column 'id' of the recursive member of t"},
		{"search set clash", `with recursive t(id) as (select n.id from Node n union all select c.id from Node c join t x on c.parent.id = x.id) search breadth first by id set id select t.id from t`,
			binder.IsAmbiguousAliasError, "clashes with a column of t"},
		{"cycle mark types", `with recursive t(id) as (select n.id from Node n union all select c.id from Node c join t x on c.parent.id = x.id) cycle id set seen to 1 default 'N' select t.id from t`,
			binder.IsTypeMismatchError, "cycle mark and default"},
		{"search on plain cte", `with t(id) as (select n.id from Node n) search depth first by id set ord select t.id from t`,
			binder.IsTypeMismatchError, "search clause"},
		{"cte column needs alias", `with t as (select n.id + 1 from Node n) select 1 from t`, binder.IsPathResolutionError, "needs an alias"},
		{"composite id column", `with t(x) as (select l from OrderLine l) select 1 from t`, binder.IsTypeMismatchError, "composite identifier"},
		{"update through join", `update Person p set p.employer.name = 'x'`, binder.IsPathResolutionError, "only attributes of the updated entity"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := binder.BindText(tc.query, testutil.SampleModel(), binder.Options{})
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error type %T: %v", err, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBind_DeterministicRangeIDs(t *testing.T) {
	text := `select p.employer.name from Person p join p.pets x where x.name = 'Rex' and p.employer.code = 'A'`
	a := firstSpec(t, bind(t, text))
	b := firstSpec(t, bind(t, text))
	var ida, idb []int
	a.From[0].Walk(func(r *queryir.Range) { ida = append(ida, r.ID) })
	b.From[0].Walk(func(r *queryir.Range) { idb = append(idb, r.ID) })
	assert.Equal(t, ida, idb)
}
