package hql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/ir"
)

func mustQuery(t *testing.T, text string) *Query {
	t.Helper()
	q, err := ParseQuery(text)
	require.NoError(t, err, text)
	return q
}

func spec(t *testing.T, q *Query) *QuerySpec {
	t.Helper()
	s, ok := q.Body.(*QuerySpec)
	require.True(t, ok, "body is %T", q.Body)
	return s
}

func TestParse_ImplicitSelect(t *testing.T) {
	q := mustQuery(t, "from Person p where p.name = :name")
	s := spec(t, q)

	assert.Nil(t, s.Select)
	require.Len(t, s.From, 1)
	root := s.From[0].Root.(*EntitySource)
	assert.Equal(t, "Person", root.Name)
	assert.Equal(t, "p", root.Alias)

	cmp := s.Where.(*Compare)
	assert.Equal(t, "=", cmp.Op)
	assert.Equal(t, []string{"p", "name"}, cmp.Left.(*Path).Segments)
	assert.Equal(t, "name", cmp.Right.(*Param).Name)
}

func TestParse_KeywordsAreCaseInsensitive(t *testing.T) {
	q := mustQuery(t, "SELECT p FROM Person AS p WHERE p.age >= 18 ORDER BY p.name DESC NULLS LAST")
	s := spec(t, q)
	require.Len(t, s.Select, 1)
	assert.Equal(t, "p", s.From[0].Root.(*EntitySource).Alias)
	require.Len(t, q.OrderBy, 1)
	assert.True(t, q.OrderBy[0].Desc)
	assert.Equal(t, "last", q.OrderBy[0].Nulls)
}

func TestParse_Joins(t *testing.T) {
	q := mustQuery(t, `select p from Person p
		left join fetch p.pets pet
		join p.employer c with c.name like 'A%'
		cross join Company c2
		join lateral (select x from Pet x where x.owner = p) lp`)
	joins := spec(t, q).From[0].Joins
	require.Len(t, joins, 4)

	assert.Equal(t, JoinLeft, joins[0].Kind)
	assert.True(t, joins[0].Fetch)
	assert.Equal(t, []string{"p", "pets"}, joins[0].Target.(*PathSource).Path.Segments)
	assert.Equal(t, "pet", joins[0].Target.(*PathSource).Alias)

	assert.Equal(t, JoinInner, joins[1].Kind)
	assert.True(t, joins[1].With)
	assert.IsType(t, &Like{}, joins[1].Condition)

	assert.Equal(t, JoinCross, joins[2].Kind)
	assert.Equal(t, "Company", joins[2].Target.(*EntitySource).Name)

	sub := joins[3].Target.(*SubquerySource)
	assert.True(t, sub.Lateral)
	assert.Equal(t, "lp", sub.Alias)
}

func TestParse_Predicates(t *testing.T) {
	testCases := []struct {
		name  string
		where string
		check func(t *testing.T, e Expr)
	}{
		{"in list", "p.id in (1, 2, 3)", func(t *testing.T, e Expr) {
			in := e.(*In)
			assert.Len(t, in.List, 3)
			assert.False(t, in.Negate)
		}},
		{"not in param", "p.id not in :ids", func(t *testing.T, e Expr) {
			in := e.(*In)
			assert.True(t, in.Negate)
			require.Len(t, in.List, 1)
			assert.Equal(t, "ids", in.List[0].(*Param).Name)
		}},
		{"in subquery", "p.employer in (select c from Company c)", func(t *testing.T, e Expr) {
			assert.NotNil(t, e.(*In).Subquery)
		}},
		{"between", "p.age between 1 and 10", func(t *testing.T, e Expr) {
			b := e.(*Between)
			assert.Equal(t, ir.IRInt(1), b.Low.(*Literal).Value)
			assert.Equal(t, ir.IRInt(10), b.High.(*Literal).Value)
		}},
		{"is not null", "p.employer is not null", func(t *testing.T, e Expr) {
			assert.True(t, e.(*IsNull).Negate)
		}},
		{"not exists", "not exists (select 1 from Pet x where x.owner = p)", func(t *testing.T, e Expr) {
			assert.True(t, e.(*Exists).Negate)
		}},
		{"precedence", "p.a = 1 or p.b = 2 and p.c = 3", func(t *testing.T, e Expr) {
			or := e.(*Logical)
			assert.Equal(t, "or", or.Op)
			assert.Equal(t, "and", or.Right.(*Logical).Op)
		}},
		{"arithmetic", "p.age + 2 * 3 > 10", func(t *testing.T, e Expr) {
			sum := e.(*Compare).Left.(*Binary)
			assert.Equal(t, "+", sum.Op)
			assert.Equal(t, "*", sum.Right.(*Binary).Op)
		}},
		{"negative literal", "p.balance < -1.50", func(t *testing.T, e Expr) {
			lit := e.(*Compare).Right.(*Literal)
			assert.Equal(t, LitDecimal, lit.Kind)
			assert.Equal(t, "-1.5", lit.Value.(ir.IRDecimal).D.String())
		}},
		{"type and treat", "type(p) = Dog and treat(p as Dog).barks = true", func(t *testing.T, e Expr) {
			and := e.(*Logical)
			assert.IsType(t, &TypeOf{}, and.Left.(*Compare).Left)
			tr := and.Right.(*Compare).Left.(*Treat)
			assert.Equal(t, "Dog", tr.Entity)
			assert.Equal(t, []string{"barks"}, tr.Segments)
		}},
		{"ordinal params", "p.a = ?1 and p.b = ?2", func(t *testing.T, e Expr) {
			and := e.(*Logical)
			assert.Equal(t, 1, and.Left.(*Compare).Right.(*Param).Ordinal)
			assert.Equal(t, 2, and.Right.(*Compare).Right.(*Param).Ordinal)
		}},
		{"escaped quote", "p.name = 'O''Brien'", func(t *testing.T, e Expr) {
			assert.Equal(t, ir.IRString("O'Brien"), e.(*Compare).Right.(*Literal).Value)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := mustQuery(t, "from Person p where "+tc.where)
			tc.check(t, spec(t, q).Where)
		})
	}
}

func TestParse_SelectForms(t *testing.T) {
	q := mustQuery(t, `select distinct new PersonSummary(p.name, count(pet) as pets),
		case when p.age > 60 then 'senior' else 'adult' end,
		count(*), count(distinct p.employer), cast(p.age as string)
		from Person p join p.pets pet group by p.name, p.age having count(pet) > 1`)
	s := spec(t, q)
	assert.True(t, s.Distinct)
	require.Len(t, s.Select, 5)

	n := s.Select[0].Expr.(*New)
	assert.Equal(t, "PersonSummary", n.Name)
	require.Len(t, n.Args, 2)
	assert.Equal(t, "pets", n.Args[1].Alias)

	assert.IsType(t, &Case{}, s.Select[1].Expr)
	assert.True(t, s.Select[2].Expr.(*Func).Star)
	assert.True(t, s.Select[3].Expr.(*Func).Distinct)
	assert.Equal(t, "cast", s.Select[4].Expr.(*Func).Name)
	assert.Len(t, s.GroupBy, 2)
	assert.NotNil(t, s.Having)
}

func TestParse_SetOperationsAndPaging(t *testing.T) {
	q := mustQuery(t, "select p.name from Person p union all select c.name from Company c intersect select d.name from Dog d order by 1 limit 10 offset :skip")
	op := q.Body.(*SetOperation)
	assert.Equal(t, Union, op.Op)
	assert.True(t, op.All)
	assert.Equal(t, Intersect, op.Right.(*SetOperation).Op)
	assert.Equal(t, ir.IRInt(10), q.Limit.(*Literal).Value)
	assert.Equal(t, "skip", q.Offset.(*Param).Name)

	q = mustQuery(t, "from Person p offset 5 rows fetch first 10 rows only")
	assert.Equal(t, ir.IRInt(5), q.Offset.(*Literal).Value)
	assert.Equal(t, ir.IRInt(10), q.Limit.(*Literal).Value)
}

func TestParse_RecursiveCTE(t *testing.T) {
	q := mustQuery(t, `with recursive tree(id, parent, name) as (
			select n.id, n.parent.id, n.name from Node n where n.parent is null
			union all
			select c.id, c.parent.id, c.name from Node c join tree t on c.parent.id = t.id
		) search depth first by id set ord
		  cycle id set looped to true default false using trail
		select t.name from tree t order by t.ord`)
	require.True(t, q.Recursive)
	require.Len(t, q.With, 1)
	cte := q.With[0]
	assert.Equal(t, "tree", cte.Name)
	assert.Equal(t, []string{"id", "parent", "name"}, cte.Columns)
	assert.IsType(t, &SetOperation{}, cte.Query.Body)

	require.NotNil(t, cte.Search)
	assert.False(t, cte.Search.BreadthFirst)
	assert.Equal(t, "ord", cte.Search.Set)

	require.NotNil(t, cte.Cycle)
	assert.Equal(t, []string{"id"}, cte.Cycle.Attributes)
	assert.Equal(t, "looped", cte.Cycle.Set)
	assert.Equal(t, ir.IRBool(true), cte.Cycle.Mark.(*Literal).Value)
	assert.Equal(t, "trail", cte.Cycle.Using)
}

func TestParse_DML(t *testing.T) {
	stmt, err := Parse("update Person p set p.name = :n, p.age = p.age + 1 where p.id = 1")
	require.NoError(t, err)
	u := stmt.(*Update)
	assert.Equal(t, "Person", u.Entity)
	assert.Equal(t, "p", u.Alias)
	assert.Len(t, u.Assignments, 2)

	stmt, err = Parse("delete from Pet x where x.owner is null")
	require.NoError(t, err)
	d := stmt.(*Delete)
	assert.Equal(t, "Pet", d.Entity)
	assert.Equal(t, "x", d.Alias)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		text string
		pos  int
	}{
		{"empty", "", 0},
		{"missing from target", "select p from", 13},
		{"dangling and", "from Person p where p.a = 1 and", 31},
		{"unterminated string", "from Person p where p.name = 'abc", 29},
		{"trailing garbage", "from Person p )", 14},
		{"bad ordinal", "from Person p where p.id = ?0", 27},
		{"lateral without subquery", "from Person p join lateral p.pets x", 27},
		{"keyword as selection", "select from", 7},
		{"keyword as path head", "from Person p where order.x = 1", 20},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text)
			require.Error(t, err)
			assert.True(t, IsParseError(err))
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.pos, pe.Pos, pe.Error())
		})
	}
}

func TestParseQuery_RejectsDML(t *testing.T) {
	_, err := ParseQuery("delete from Pet x")
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}
