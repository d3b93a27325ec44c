package engine_test

import (
	"context"
	"fmt"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/engine"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/store"
	"github.com/roach88/oql/internal/testutil"
)

var drivers = []string{store.DriverSQLite, store.DriverSQLite3}

// forEachDriver runs fn against a fresh sample database per sqlite driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, f *engine.Factory, s *engine.Session)) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			db := testutil.OpenSampleDB(t, driver)
			f := newFactory(t, db)
			fn(t, f, openSession(t, f))
		})
	}
}

func list(t *testing.T, s *engine.Session, text string, params map[string]any) []any {
	t.Helper()
	q, err := s.CreateQuery(text)
	require.NoError(t, err)
	for k, v := range params {
		require.NoError(t, q.SetParameter(k, v))
	}
	results, err := q.List(context.Background())
	require.NoError(t, err)
	return results
}

func executed(f *engine.Factory) float64 {
	return promtest.ToFloat64(f.Metrics().StatementsExecuted.WithLabelValues("select"))
}

func TestSQLite_Find(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()

		ann, err := s.Find(ctx, "Person", 1)
		require.NoError(t, err)
		r := record(t, ann)
		assert.Equal(t, "Ann", r.Get("name"))
		assert.Equal(t, int64(34), r.Get("age"))
		assert.True(t, decimal.RequireFromString("120.5").Equal(r.Get("balance").(decimal.Decimal)))
		assert.Equal(t, true, r.Get("active"))

		again, err := s.Find(ctx, "Person", int64(1))
		require.NoError(t, err)
		assert.Same(t, ann, again)
		assert.Equal(t, 1.0, executed(f))

		rex, err := s.Find(ctx, "Pet", 1)
		require.NoError(t, err)
		assert.Equal(t, "Dog", record(t, rex).Type().TypeName())
		assert.Equal(t, "R-1", record(t, rex).Get("tag"))

		cat, err := s.Find(ctx, "Cat", 1)
		require.NoError(t, err)
		assert.Nil(t, cat)

		missing, err := s.Find(ctx, "Person", 99)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestSQLite_LazyReferenceLoadsOnce(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()
		results := list(t, s, `select p from Person p where p.id in :ids order by p.id`, map[string]any{"ids": []int{1, 2}})
		require.Len(t, results, 2)

		ref := record(t, results[0]).Get("employer").(*persist.LazyReference)
		assert.Same(t, ref, record(t, results[1]).Get("employer"))
		assert.Equal(t, persist.Uninitialized, ref.State())
		before := executed(f)

		for range 2 {
			acme, err := ref.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Acme", record(t, acme).Get("name"))
		}
		assert.Equal(t, 1, ref.Loads())
		assert.Equal(t, before+1, executed(f))

		// Acme is registered under its unique key too, so the reference by
		// code resolves without a statement.
		byCode := record(t, results[0]).Get("employerByCode").(*persist.LazyReference)
		assert.Equal(t, persist.Initialized, byCode.State())
		assert.Same(t, ref.Peek(), byCode.Peek())
	})
}

func TestSQLite_UniqueKeyReference(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()
		cid := list(t, s, `select p from Person p where p.name = :n`, map[string]any{"n": "Cid"})
		require.Len(t, cid, 1)

		ref := record(t, cid[0]).Get("employerByCode").(*persist.LazyReference)
		assert.Equal(t, `Company.code#"GLBX"`, ref.Key().String())
		globex, err := ref.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Globex", record(t, globex).Get("name"))

		byID, err := s.Find(ctx, "Company", 2)
		require.NoError(t, err)
		assert.Same(t, globex, byID)
	})
}

func TestSQLite_GetReference(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()
		ref, err := s.GetReference("Person", 4)
		require.NoError(t, err)
		assert.Zero(t, executed(f))

		dee, err := ref.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Dee", record(t, dee).Get("name"))
		assert.Nil(t, record(t, dee).Get("employer"))

		ghost, err := s.GetReference("Person", 42)
		require.NoError(t, err)
		_, err = ghost.Get(ctx)
		assert.True(t, persist.IsEntityNotFoundError(err))
	})
}

func TestSQLite_ReferenceAsParameter(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		acme, err := s.GetReference("Company", 1)
		require.NoError(t, err)

		names := list(t, s, `select p.name from Person p where p.employer = :c order by p.name`, map[string]any{"c": acme})
		assert.Equal(t, []any{"Ann", "Bob"}, names)
		// Binding a reference by identifier does not load it.
		assert.Equal(t, persist.Uninitialized, acme.State())
	})
}

func TestSQLite_SubselectFetch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()
		people := list(t, s, `select p from Person p where p.age > :age order by p.id`, map[string]any{"age": 30})
		require.Len(t, people, 2)
		before := executed(f)

		annPets := record(t, people[0]).Get("pets").(*persist.PersistentCollection)
		bobPets := record(t, people[1]).Get("pets").(*persist.PersistentCollection)
		pets, err := annPets.Get(ctx)
		require.NoError(t, err)
		assert.Len(t, pets, 2)

		assert.Equal(t, persist.Initialized, bobPets.State())
		assert.Len(t, bobPets.Elements(), 1)
		assert.Equal(t, before+1, executed(f))

		var kinds []string
		for _, p := range pets {
			kinds = append(kinds, record(t, p).Type().TypeName())
		}
		assert.ElementsMatch(t, []string{"Dog", "Cat"}, kinds)
	})
}

func TestSQLite_BatchFetch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()
		people := list(t, s, `select p from Person p order by p.id`, nil)
		require.Len(t, people, 4)
		before := executed(f)

		friends, err := record(t, people[0]).Get("friends").(*persist.PersistentCollection).Get(ctx)
		require.NoError(t, err)
		assert.Len(t, friends, 2)
		assert.Equal(t, before+1, executed(f))

		// One statement filled every pending friends collection.
		for i, want := range []int{2, 1, 1, 0} {
			c := record(t, people[i]).Get("friends").(*persist.PersistentCollection)
			assert.Equal(t, persist.Initialized, c.State())
			assert.Len(t, c.Elements(), want)
		}
		for _, fr := range friends {
			assert.True(t, s.Contains(fr))
		}
	})
}

func TestSQLite_FetchJoin(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		roots := list(t, s, `select n from Node n left join fetch n.children where n.parent is null`, nil)
		require.Len(t, roots, 1)
		children := record(t, roots[0]).Get("children").(*persist.PersistentCollection)
		assert.Equal(t, persist.Initialized, children.State())
		assert.Len(t, children.Elements(), 2)
		assert.Equal(t, 1.0, executed(f))
	})
}

func TestSQLite_JoinedInheritance(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		vehicles := list(t, s, `select v from Vehicle v order by v.id`, nil)
		require.Len(t, vehicles, 3)
		var types []string
		for _, v := range vehicles {
			types = append(types, record(t, v).Type().TypeName())
		}
		assert.Equal(t, []string{"Car", "Truck", "Vehicle"}, types)
		assert.Equal(t, int64(4), record(t, vehicles[0]).Get("doors"))
		assert.True(t, decimal.RequireFromString("1200.5").Equal(record(t, vehicles[1]).Get("payload").(decimal.Decimal)))
	})
}

func TestSQLite_Paging(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		q, err := s.CreateQuery(`select p.name from Person p order by p.id`)
		require.NoError(t, err)
		names, err := q.SetFirstResult(1).SetMaxResults(2).List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []any{"Bob", "Cid"}, names)
	})
}

func TestSQLite_ExecuteUpdate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, f *engine.Factory, s *engine.Session) {
		ctx := context.Background()
		q, err := s.CreateQuery(`update Person p set p.age = p.age + 1 where p.name = :n`)
		require.NoError(t, err)
		require.NoError(t, q.SetParameter("n", "Ann"))
		n, err := q.ExecuteUpdate(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ages := list(t, s, `select p.age from Person p where p.name = :n`, map[string]any{"n": "Ann"})
		assert.Equal(t, []any{int64(35)}, ages)

		del, err := s.CreateQuery(`delete from Dog d where d.barks = false`)
		require.NoError(t, err)
		n, err = del.ExecuteUpdate(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, 1.0, promtest.ToFloat64(f.Metrics().StatementsExecuted.WithLabelValues("delete")))
	})
}

const cycleQuery = `with recursive tree(id, name) as (
	select n.id, n.name from Node n where n.id = 1
	union all
	select c.id, c.name from Node c join tree t on c.parent.id = t.id
) cycle %s set looped to 'Y' default 'N'
select t.id, t.looped from tree t order by t.id, t.looped`

func TestSQLite_RecursiveCycle(t *testing.T) {
	testCases := []struct {
		name   string
		script string
		by     string
		want   []any
	}{
		{
			name:   "revisited row is marked",
			script: `UPDATE node SET parent_id = 4 WHERE id = 1`,
			by:     "id",
			want: []any{
				[]any{int64(1), "N"}, []any{int64(1), "Y"},
				[]any{int64(2), "N"}, []any{int64(3), "N"}, []any{int64(4), "N"},
			},
		},
		{
			name: "wildcards and delimiters in keys",
			script: `UPDATE node SET name = 'abc' WHERE id = 1;
UPDATE node SET name = 'a_c' WHERE id = 2;
UPDATE node SET name = 'abc/a_c' WHERE id = 4`,
			by: "name",
			want: []any{
				[]any{int64(1), "N"}, []any{int64(2), "N"},
				[]any{int64(3), "N"}, []any{int64(4), "N"},
			},
		},
	}
	for _, tc := range testCases {
		for _, driver := range drivers {
			t.Run(tc.name+"/"+driver, func(t *testing.T) {
				db := testutil.OpenSampleDB(t, driver)
				require.NoError(t, db.ExecScript(context.Background(), tc.script))
				s := openSession(t, newFactory(t, db))
				rows := list(t, s, fmt.Sprintf(cycleQuery, tc.by), nil)
				assert.Equal(t, tc.want, rows)
			})
		}
	}
}
