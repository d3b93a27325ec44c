package criteria_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/binder"
	"github.com/roach88/oql/internal/criteria"
	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/testutil"
)

func sqlOf(t *testing.T, stmt queryir.Statement) string {
	t.Helper()
	plan, err := querysql.NewCompiler(dialect.PostgreSQL, true).Compile(stmt, querysql.Options{})
	require.NoError(t, err)
	return plan.SQL
}

func sqlOfText(t *testing.T, text string) string {
	t.Helper()
	stmt, err := binder.BindText(text, testutil.SampleModel(), binder.Options{})
	require.NoError(t, err)
	return sqlOf(t, stmt)
}

// Criteria queries lower to the same SQL as their text equivalents.
func TestCriteria_MatchesText(t *testing.T) {
	m := testutil.SampleModel()
	person, company, pet := m.Entity("Person"), m.Entity("Company"), m.Entity("Pet")

	testCases := []struct {
		name  string
		text  string
		build func(b *criteria.Builder) (queryir.Statement, error)
	}{
		{
			name: "implicit join",
			text: `select p from Person p where p.employer.name = :name`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				p := b.Root(person, "p")
				return b.Select(p.Entity()).From(p).
					Where(b.Eq(p.Get("employer", "name"), b.Param("name"))).
					Build()
			},
		},
		{
			name: "explicit join",
			text: `select p.name, c from Person p join p.employer c where c.code = :code`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				p := b.Root(person, "p")
				c := p.Join("employer", "c")
				return b.Select(p.Get("name"), c.Entity()).From(p).
					Where(b.Eq(c.Get("code"), b.Param("code"))).
					Build()
			},
		},
		{
			name: "foreign key comparison",
			text: `select p from Person p where p.employer = :c`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				p := b.Root(person, "p")
				return b.Select(p.Entity()).From(p).
					Where(b.Eq(p.Get("employer"), b.Param("c"))).
					Build()
			},
		},
		{
			name: "foreign key identifier",
			text: `select p.name from Person p where p.employer.id = :id`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				p := b.Root(person, "p")
				return b.Select(p.Get("name")).From(p).
					Where(b.Eq(p.Get("employer", "id"), b.Param("id"))).
					Build()
			},
		},
		{
			name: "multi-valued parameter and ordering",
			text: `select c.name from Company c where c.id in :ids order by c.name desc`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				c := b.Root(company, "c")
				return b.Select(c.Get("name")).From(c).
					Where(b.In(c.Get("id"), b.Param("ids"))).
					OrderByDesc(c.Get("name")).
					Build()
			},
		},
		{
			name: "polymorphic attribute",
			text: `select x from Pet x where x.barks = true`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				x := b.Root(pet, "x")
				return b.Select(x.Entity()).From(x).
					Where(b.Eq(x.Get("barks"), b.Literal(true))).
					Build()
			},
		},
		{
			name: "aggregate with grouping",
			text: `select p.age, count(p) from Person p group by p.age having count(p) > 1`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				p := b.Root(person, "p")
				return b.Select(p.Get("age"), b.Count(p.Entity(), false)).From(p).
					GroupBy(p.Get("age")).
					Having(b.Gt(b.Count(p.Entity(), false), b.Literal(1))).
					Build()
			},
		},
		{
			name: "bulk update",
			text: `update Person p set p.age = :age where p.name = :name`,
			build: func(b *criteria.Builder) (queryir.Statement, error) {
				p := b.Root(person, "p")
				return b.Update(p).
					Set(b.Param("age"), "age").
					Where(b.Eq(p.Get("name"), b.Param("name"))).
					Build()
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := tc.build(criteria.New())
			require.NoError(t, err)
			assert.Equal(t, sqlOfText(t, tc.text), sqlOf(t, stmt))
		})
	}
}

func TestCriteria_ImplicitJoinReuse(t *testing.T) {
	b := criteria.New()
	p := b.Root(testutil.SampleModel().Entity("Person"), "p")
	stmt, err := b.Select(p.Get("employer", "name"), p.Get("employer", "code")).From(p).Build()
	require.NoError(t, err)
	assert.Len(t, p.Range().Joins, 1)
	assert.Equal(t, "select e1_0.name, e1_0.code from person p1_0 join company e1_0 on p1_0.employer_id = e1_0.id", sqlOf(t, stmt))
}

func TestCriteria_ParameterInference(t *testing.T) {
	b := criteria.New()
	p := b.Root(testutil.SampleModel().Entity("Person"), "p")
	age := b.Param("age")
	employer := b.Param("employer")
	_, err := b.Select(p.Entity()).From(p).
		Where(b.Gt(p.Get("age"), age), b.Eq(p.Get("employer"), employer)).
		Build()
	require.NoError(t, err)

	assert.Equal(t, metamodel.TypeInteger, age.Slot.Type.Basic)
	assert.Equal(t, "Company", employer.Slot.Type.Entity.Name())
	require.Len(t, employer.Slot.Key, 1)
	assert.Equal(t, "id", employer.Slot.Key[0].Name())
}

func TestCriteria_Extending(t *testing.T) {
	m := testutil.SampleModel()
	src, err := binder.BindText(`select p from Person p where p.age > :age`, m, binder.Options{})
	require.NoError(t, err)
	spec := src.(*queryir.SelectStatement).Body.(*queryir.QuerySpec)
	owner := spec.From[0]

	b := criteria.Extending(src)
	o := b.Root(m.Entity("Person"), "o")
	assert.Greater(t, o.Range().ID, owner.ID)

	sub := &queryir.SelectStatement{Body: &queryir.QuerySpec{
		From:      spec.From,
		Selection: []*queryir.SelectItem{{Expr: &queryir.AttributeRef{Range: owner, Path: []*metamodel.Attribute{owner.Entity.ID()}}}},
		Where:     spec.Where,
	}}
	stmt, err := b.Select(o.Get("name")).From(o).
		Where(&queryir.InSubquery{X: o.Get("id"), Query: sub}).
		Build()
	require.NoError(t, err)
	assert.Same(t, src.Parameters(), stmt.Params)
	assert.NotNil(t, stmt.Params.Lookup(":age"))
	assert.Contains(t, sqlOf(t, stmt), ".age > $1)")

	// A fresh builder does not know the embedded parameter.
	fresh := criteria.New()
	x := fresh.Root(m.Entity("Person"), "x")
	_, err = fresh.Select(x.Get("name")).From(x).
		Where(&queryir.InSubquery{X: x.Get("id"), Query: sub}).
		Build()
	require.Error(t, err)
}

func TestCriteria_UniqueKeyComparison(t *testing.T) {
	b := criteria.New()
	p := b.Root(testutil.SampleModel().Entity("Person"), "p")
	c := b.Param("c")
	_, err := b.Select(p.Entity()).From(p).Where(b.Eq(p.Get("employerByCode"), c)).Build()
	require.NoError(t, err)
	require.Len(t, c.Slot.Key, 1)
	assert.Equal(t, "code", c.Slot.Key[0].Name())
}

func TestCriteria_Errors(t *testing.T) {
	m := testutil.SampleModel()
	testCases := []struct {
		name  string
		build func(b *criteria.Builder) error
	}{
		{
			name: "unknown attribute",
			build: func(b *criteria.Builder) error {
				p := b.Root(m.Entity("Person"), "p")
				_, err := b.Select(p.Get("nickname")).From(p).Build()
				return err
			},
		},
		{
			name: "dereferenced basic attribute",
			build: func(b *criteria.Builder) error {
				p := b.Root(m.Entity("Person"), "p")
				_, err := b.Select(p.Get("name", "length")).From(p).Build()
				return err
			},
		},
		{
			name: "join over a basic attribute",
			build: func(b *criteria.Builder) error {
				p := b.Root(m.Entity("Person"), "p")
				p.Join("name", "n")
				_, err := b.Select(p.Entity()).From(p).Build()
				return err
			},
		},
		{
			name: "ordering comparison of entities",
			build: func(b *criteria.Builder) error {
				p := b.Root(m.Entity("Person"), "p")
				_, err := b.Select(p.Entity()).From(p).Where(b.Lt(p.Get("employer"), b.Param("c"))).Build()
				return err
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build(criteria.New())
			require.Error(t, err)
			var cerr *criteria.Error
			assert.True(t, errors.As(err, &cerr), "got %T: %v", err, err)
		})
	}
}
