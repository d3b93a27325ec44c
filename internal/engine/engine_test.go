package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/engine"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/store"
	"github.com/roach88/oql/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFactory(t *testing.T, client store.Client, opts ...engine.Option) *engine.Factory {
	t.Helper()
	base := []engine.Option{
		engine.WithLogger(discardLogger()),
		engine.WithMetrics(engine.NewMetrics(nil)),
		engine.WithIDGenerator(engine.NewFixedGenerator("s1", "s2", "s3", "s4")),
		engine.WithPadding(true),
	}
	f, err := engine.NewFactory(testutil.SampleModel(), dialect.SQLite, client, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func openSession(t *testing.T, f *engine.Factory) *engine.Session {
	t.Helper()
	s := f.OpenSession()
	t.Cleanup(func() { s.Close() })
	return s
}

// rowOf builds a result row for plan with the named attributes of the
// selected entity set. Fetched entities are addressed as "attr.name".
func rowOf(plan *querysql.Plan, values map[string]any) []any {
	row := make([]any, plan.Shape.Width)
	es := plan.Shape.Items[0].Entity
	for name, v := range values {
		target, attr := es, name
		for _, f := range es.Fetches {
			prefix := f.Attribute.Name() + "."
			if len(name) > len(prefix) && name[:len(prefix)] == prefix {
				target, attr = f.Target, name[len(prefix):]
			}
		}
		setColumn(row, target, attr, v)
	}
	return row
}

func setColumn(row []any, es *querysql.EntityShape, name string, v any) {
	if name == "id" {
		row[es.ID.Column] = v
		return
	}
	for _, as := range es.Attributes {
		if as.Attribute.Name() != name {
			continue
		}
		if len(as.Columns) > 0 {
			row[as.Columns[0]] = v
		} else {
			row[as.Column] = v
		}
		return
	}
	panic("no column for " + name)
}

func record(t *testing.T, v any) *metamodel.Record {
	t.Helper()
	r, ok := v.(*metamodel.Record)
	require.True(t, ok, "want a record, got %T", v)
	return r
}

func TestList_CollapsesFetchedRows(t *testing.T) {
	text := `select c from Company c left join fetch c.staff s left join fetch c.partners p`
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	plan, err := f.Translate(text, nil)
	require.NoError(t, err)
	require.True(t, plan.Shape.DistinctRoots)

	var rows [][]any
	for _, staff := range []int64{1, 2} {
		for _, partner := range []int64{2, 3, 4} {
			rows = append(rows, rowOf(plan, map[string]any{
				"id": int64(1), "name": "Acme",
				"staff.id": staff, "partners.id": partner,
			}))
		}
	}
	client.Otherwise(testutil.FakeResult{Rows: rows})

	s := openSession(t, f)
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	results, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	acme := record(t, results[0])
	assert.Equal(t, "Acme", acme.Get("name"))
	staff := acme.Get("staff").(*persist.PersistentCollection)
	partners := acme.Get("partners").(*persist.PersistentCollection)
	assert.Equal(t, persist.Initialized, staff.State())
	assert.Equal(t, persist.Initialized, partners.State())
	assert.Len(t, staff.Elements(), 2)
	assert.Len(t, partners.Elements(), 3)
	assert.Zero(t, staff.Loads())

	assert.Len(t, client.SQL(), 1)
	assert.Empty(t, client.Unclosed())
	assert.Equal(t, 6, s.PersistenceContext().Len())
}

func TestList_DistinctRootsPageInMemory(t *testing.T) {
	text := `select c from Company c left join fetch c.staff order by c.id`
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	plan, err := f.Translate(text, nil)
	require.NoError(t, err)
	client.Otherwise(testutil.FakeResult{Rows: [][]any{
		rowOf(plan, map[string]any{"id": int64(1), "staff.id": int64(1)}),
		rowOf(plan, map[string]any{"id": int64(1), "staff.id": int64(2)}),
		rowOf(plan, map[string]any{"id": int64(2), "staff.id": int64(3)}),
		rowOf(plan, map[string]any{"id": int64(3)}),
	}})

	s := openSession(t, f)
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	results, err := q.SetFirstResult(1).SetMaxResults(1).List(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), record(t, results[0]).Get("id"))

	empty := record(t, managed(s, "Company", 3))
	staff := empty.Get("staff").(*persist.PersistentCollection)
	assert.Equal(t, persist.Initialized, staff.State())
	assert.Empty(t, staff.Elements())
}

// managed returns the instance a session holds for entity and id.
func managed(s *engine.Session, entity string, id any) any {
	e := s.PersistenceContext()
	key, err := persist.NewEntityKey(testutil.SampleModel().Entity(entity), id)
	if err != nil {
		return nil
	}
	entry, ok := e.Lookup(key)
	if !ok {
		return nil
	}
	return entry.Instance
}

func TestList_PadsInListParameters(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{Rows: [][]any{{"Ann"}}})
	f := newFactory(t, client)
	s := openSession(t, f)

	q, err := s.CreateQuery(`select p.name from Person p where p.id in :ids`)
	require.NoError(t, err)
	require.NoError(t, q.SetParameter("ids", []int{1, 2, 3}))
	results, err := q.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"Ann"}, results)

	stmts := client.Statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, "select p1_0.name from person p1_0 where p1_0.id in (?, ?, ?, ?)", stmts[0].SQL)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(3)}, stmts[0].Args)
}

func TestList_PlanCache(t *testing.T) {
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	s := openSession(t, f)
	text := `select p.name from Person p where p.id in :ids`

	for _, ids := range [][]int{{1, 2, 3}, {1, 2, 3, 4}, {5, 6, 7}} {
		q, err := s.CreateQuery(text)
		require.NoError(t, err)
		require.NoError(t, q.SetParameter(":ids", ids))
		_, err = q.List(context.Background())
		require.NoError(t, err)
	}

	// Three and four values pad to the same placeholder group.
	assert.Equal(t, 1, f.CachedPlans())
	m := f.Metrics()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.PlanCacheMisses))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.PlanCacheHits))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.StatementsExecuted.WithLabelValues("select")))
}

func TestList_PlanCacheDisabled(t *testing.T) {
	f := newFactory(t, testutil.NewFakeClient(), engine.WithPlanCacheSize(0))
	s := openSession(t, f)
	q, err := s.CreateQuery(`select p.name from Person p`)
	require.NoError(t, err)
	_, err = q.List(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.CachedPlans())
}

func TestList_IdentityIsPreserved(t *testing.T) {
	text := `select p from Person p`
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	plan, err := f.Translate(text, nil)
	require.NoError(t, err)
	client.Otherwise(testutil.FakeResult{Rows: [][]any{
		rowOf(plan, map[string]any{"id": int64(1), "name": "Ann"}),
		rowOf(plan, map[string]any{"id": int64(1), "name": "Ann"}),
	}})

	s := openSession(t, f)
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	first, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Same(t, first[0], first[1])

	client.Otherwise(testutil.FakeResult{Rows: [][]any{
		rowOf(plan, map[string]any{"id": int64(1), "name": "Renamed"}),
	}})
	second, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, "Ann", record(t, second[0]).Get("name"))
	assert.True(t, s.Contains(second[0]))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.Metrics().EntitiesLoaded))
}

func TestList_ToOneReferencesAreShared(t *testing.T) {
	text := `select p from Person p`
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	plan, err := f.Translate(text, nil)
	require.NoError(t, err)
	client.Otherwise(testutil.FakeResult{Rows: [][]any{
		rowOf(plan, map[string]any{"id": int64(1), "employer": int64(7)}),
		rowOf(plan, map[string]any{"id": int64(2), "employer": int64(7)}),
		rowOf(plan, map[string]any{"id": int64(3)}),
	}})

	s := openSession(t, f)
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	results, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	a := record(t, results[0]).Get("employer").(*persist.LazyReference)
	b := record(t, results[1]).Get("employer").(*persist.LazyReference)
	assert.Same(t, a, b)
	assert.Equal(t, persist.Uninitialized, a.State())
	assert.Equal(t, "Company#7", a.Key().String())
	assert.Nil(t, record(t, results[2]).Get("employer"))
	assert.Len(t, client.SQL(), 1)
}

func TestList_InconsistentAssociationState(t *testing.T) {
	text := `select p from Person p left join fetch p.employer`
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	plan, err := f.Translate(text, nil)
	require.NoError(t, err)
	client.Otherwise(testutil.FakeResult{Rows: [][]any{
		// The foreign key points at a company the join did not find.
		rowOf(plan, map[string]any{"id": int64(1), "employer": int64(9)}),
		rowOf(plan, map[string]any{"id": int64(2)}),
	}})

	s := openSession(t, f)
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	results, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	ref, ok := record(t, results[0]).Get("employer").(*persist.LazyReference)
	require.True(t, ok)
	assert.Equal(t, "Company#9", ref.Key().String())
	assert.Nil(t, record(t, results[1]).Get("employer"))

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Person#1", warnings[0].Owner.String())
	assert.Equal(t, "employer", warnings[0].Attribute)
	assert.Equal(t, []any{int64(9)}, warnings[0].ForeignKey)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.Metrics().Warnings))

	s.Clear()
	assert.Empty(t, s.Warnings())
}

func TestQuery_ParameterErrors(t *testing.T) {
	s := openSession(t, newFactory(t, testutil.NewFakeClient()))
	ctx := context.Background()

	q, err := s.CreateQuery(`select p.name from Person p where p.name = :name and p.id in :ids`)
	require.NoError(t, err)
	assert.Len(t, q.Parameters(), 2)

	err = q.SetParameter("nope", 1)
	assert.True(t, engine.IsParameterError(err))
	var qe *engine.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, engine.ErrCodeUnknownParameter, qe.Code)
	assert.Equal(t, ":nope", qe.Parameter)

	err = q.SetParameter("name", []string{"a", "b"})
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, engine.ErrCodeInvalidParameter, qe.Code)

	err = q.SetParameter("ids", 1)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, engine.ErrCodeInvalidParameter, qe.Code)

	require.NoError(t, q.SetParameter("name", "Ann"))
	_, err = q.List(ctx)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, engine.ErrCodeMissingParameter, qe.Code)
	assert.Equal(t, ":ids", qe.Parameter)

	require.NoError(t, q.SetParameter("ids", []int64{1}))
	_, err = q.List(ctx)
	require.NoError(t, err)

	pos, err := s.CreateQuery(`select p.name from Person p where p.age > ?1`)
	require.NoError(t, err)
	require.NoError(t, pos.SetPositional(1, "not a number"))
	_, err = pos.List(ctx)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, engine.ErrCodeInvalidParameter, qe.Code)
}

func TestQuery_IllegalOperations(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{Affected: 2})
	s := openSession(t, newFactory(t, client))
	ctx := context.Background()

	del, err := s.CreateQuery(`delete from Person p where p.age > 90`)
	require.NoError(t, err)
	_, err = del.List(ctx)
	assert.True(t, engine.IsIllegalQueryOperationError(err))
	for _, err := range del.Scroll(ctx) {
		assert.True(t, engine.IsIllegalQueryOperationError(err))
	}

	sel, err := s.CreateQuery(`select p from Person p`)
	require.NoError(t, err)
	_, err = sel.ExecuteUpdate(ctx)
	assert.True(t, engine.IsIllegalQueryOperationError(err))

	_, err = del.SetReadOnly(true).ExecuteUpdate(ctx)
	assert.True(t, engine.IsIllegalQueryOperationError(err))

	n, err := del.SetReadOnly(false).ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, client.SQL(), 1)
}

func TestQuery_SingleResult(t *testing.T) {
	client := testutil.NewFakeClient()
	s := openSession(t, newFactory(t, client))
	ctx := context.Background()
	q, err := s.CreateQuery(`select p.name from Person p`)
	require.NoError(t, err)

	v, err := q.SingleResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	client.Otherwise(testutil.FakeResult{Rows: [][]any{{"Ann"}}})
	v, err = q.SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ann", v)

	client.Otherwise(testutil.FakeResult{Rows: [][]any{{"Ann"}, {"Bob"}}})
	_, err = q.SingleResult(ctx)
	assert.True(t, engine.IsNonUniqueResultError(err))
}

func TestQuery_TupleAndInstantiation(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{Rows: [][]any{{"Ann", int64(34)}}})
	type summary struct {
		Name string
		Age  int64
	}
	f := newFactory(t, client, engine.WithInstantiator("Summary", func(args []any) (any, error) {
		return summary{Name: args[0].(string), Age: args[1].(int64)}, nil
	}))
	s := openSession(t, f)
	ctx := context.Background()

	tuple, err := s.CreateQuery(`select p.name, p.age from Person p`)
	require.NoError(t, err)
	results, err := tuple.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"Ann", int64(34)}}, results)

	inst, err := s.CreateQuery(`select new Summary(p.name, p.age) from Person p`)
	require.NoError(t, err)
	results, err = inst.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{summary{Name: "Ann", Age: 34}}, results)
}

func TestQuery_StatementOptions(t *testing.T) {
	client := testutil.NewFakeClient()
	f := newFactory(t, client, engine.WithQueryTimeout(time.Second), engine.WithFetchSize(10))
	s := openSession(t, f)
	ctx := context.Background()

	q, err := s.CreateQuery(`select p.name from Person p`)
	require.NoError(t, err)
	_, err = q.List(ctx)
	require.NoError(t, err)
	_, err = q.SetTimeout(5 * time.Second).SetFetchSize(50).SetMaxRows(3).List(ctx)
	require.NoError(t, err)

	stmts := client.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, time.Second, stmts[0].Timeout)
	assert.Equal(t, 10, stmts[0].FetchSize)
	assert.Zero(t, stmts[0].MaxRows)
	assert.Equal(t, 5*time.Second, stmts[1].Timeout)
	assert.Equal(t, 50, stmts[1].FetchSize)
	assert.Equal(t, 3, stmts[1].MaxRows)
}

func TestQuery_StatementsClosedOnFailure(t *testing.T) {
	boom := errors.New("boom")
	testCases := []struct {
		name string
		res  testutil.FakeResult
	}{
		{name: "execute", res: testutil.FakeResult{ExecErr: boom}},
		{name: "bind", res: testutil.FakeResult{BindErr: boom}},
		{name: "fetch", res: testutil.FakeResult{Rows: [][]any{{"Ann"}, {"Bob"}}, FetchErr: boom, FetchErrAfter: 1}},
		{name: "conversion", res: testutil.FakeResult{Rows: [][]any{{"not a number"}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := testutil.NewFakeClient().Otherwise(tc.res)
			f := newFactory(t, client)
			s := openSession(t, f)
			q, err := s.CreateQuery(`select p.age from Person p where p.name = :n`)
			require.NoError(t, err)
			require.NoError(t, q.SetParameter("n", "Ann"))

			_, err = q.List(context.Background())
			require.Error(t, err)
			assert.Empty(t, client.Unclosed())
			require.NoError(t, s.Close())
		})
	}
}

func TestQuery_Scroll(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{Rows: [][]any{{"Ann"}, {"Bob"}, {"Cid"}}})
	s := openSession(t, newFactory(t, client))
	q, err := s.CreateQuery(`select p.name from Person p`)
	require.NoError(t, err)

	var got []any
	for v, err := range q.Scroll(context.Background()) {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []any{"Ann", "Bob"}, got)
	assert.Empty(t, client.Unclosed())

	// The offset is rendered into the SQL.
	db := testutil.OpenSampleDB(t, store.DriverSQLite)
	paged, err := openSession(t, newFactory(t, db)).CreateQuery(`select p.name from Person p order by p.id`)
	require.NoError(t, err)
	got = nil
	for v, err := range paged.SetFirstResult(1).Scroll(context.Background()) {
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []any{"Bob", "Cid", "Dee"}, got)
}

func TestQuery_ScrollHoldsDistinctRoots(t *testing.T) {
	text := `select c from Company c left join fetch c.staff`
	client := testutil.NewFakeClient()
	f := newFactory(t, client)
	plan, err := f.Translate(text, nil)
	require.NoError(t, err)
	client.Otherwise(testutil.FakeResult{Rows: [][]any{
		rowOf(plan, map[string]any{"id": int64(1), "staff.id": int64(1)}),
		rowOf(plan, map[string]any{"id": int64(1), "staff.id": int64(2)}),
		rowOf(plan, map[string]any{"id": int64(2), "staff.id": int64(3)}),
	}})

	s := openSession(t, f)
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	var sizes []int
	for v, err := range q.Scroll(context.Background()) {
		require.NoError(t, err)
		staff := record(t, v).Get("staff").(*persist.PersistentCollection)
		assert.Equal(t, persist.Initialized, staff.State())
		sizes = append(sizes, len(staff.Elements()))
	}
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestSession_Close(t *testing.T) {
	f := newFactory(t, testutil.NewFakeClient())
	s := f.OpenSession()
	assert.Equal(t, "s1", s.ID())
	assert.Equal(t, "s2", f.OpenSession().ID())

	ref, err := s.GetReference("Person", 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.CreateQuery(`select p from Person p`)
	assert.True(t, engine.IsSessionClosedError(err))
	_, err = s.Find(context.Background(), "Person", 1)
	assert.True(t, engine.IsSessionClosedError(err))
	_, err = ref.Get(context.Background())
	assert.True(t, persist.IsLazyInitializationError(err))
}

func TestSession_UnknownEntity(t *testing.T) {
	s := openSession(t, newFactory(t, testutil.NewFakeClient()))
	_, err := s.Find(context.Background(), "Spaceship", 1)
	assert.True(t, engine.IsUnknownEntityError(err))
	_, err = s.GetReference("Spaceship", 1)
	assert.True(t, engine.IsUnknownEntityError(err))
}

func TestFactory_BindErrorsAreNotCached(t *testing.T) {
	f := newFactory(t, testutil.NewFakeClient())
	s := openSession(t, f)
	for range 2 {
		_, err := s.CreateQuery(`select x from Nowhere x`)
		require.Error(t, err)
	}
	assert.Equal(t, 2.0, promtest.ToFloat64(f.Metrics().PlanCacheMisses))
}

func TestFactory_ConcurrentSessionsSharePlans(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{Rows: [][]any{{"Ann"}}})
	f := newFactory(t, client, engine.WithIDGenerator(engine.UUIDv7Generator{}))
	texts := []string{
		`select p.name from Person p`,
		`select p.name from Person p where p.age > :age`,
		`select c.name from Company c`,
	}

	const workers = 16
	plans := make([][]*querysql.Plan, workers)
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			s := f.OpenSession()
			defer s.Close()
			for _, text := range texts {
				q, err := s.CreateQuery(text)
				if err != nil {
					return err
				}
				if len(q.Parameters()) > 0 {
					if err := q.SetParameter("age", int64(w)); err != nil {
						return err
					}
				}
				if _, err := q.List(context.Background()); err != nil {
					return err
				}
				plan, err := f.Translate(text, nil)
				if err != nil {
					return err
				}
				plans[w] = append(plans[w], plan)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for w := 1; w < workers; w++ {
		for i := range texts {
			assert.Same(t, plans[0][i], plans[w][i], "worker %d, query %d", w, i)
		}
	}
	assert.Positive(t, promtest.ToFloat64(f.Metrics().PlanCacheHits))
}
