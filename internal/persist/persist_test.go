package persist_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/testutil"
)

func entity(t *testing.T, name string) *metamodel.EntityType {
	t.Helper()
	e := testutil.SampleModel().Entity(name)
	require.NotNil(t, e, name)
	return e
}

func newInstance(e *metamodel.EntityType, id any) any {
	inst := e.New()
	e.ID().Set(inst, id)
	return inst
}

func key(t *testing.T, e *metamodel.EntityType, id any) persist.EntityKey {
	t.Helper()
	k, err := persist.NewEntityKey(e, id)
	require.NoError(t, err)
	return k
}

// countingLoader builds instances on demand and registers them.
type countingLoader struct {
	pc          *persist.Context
	entityLoads atomic.Int32
	collLoads   atomic.Int32
	missing     map[persist.EntityKey]bool
	fail        error
	gate        chan struct{}
	batch       int
}

func (l *countingLoader) LoadEntity(_ context.Context, k persist.EntityKey) (any, error) {
	l.entityLoads.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	if l.fail != nil {
		return nil, l.fail
	}
	if l.missing[k] {
		return nil, nil
	}
	inst := newInstance(k.Root, int64(len(k.ID)))
	if _, err := l.pc.Register(k, k.Root, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (l *countingLoader) LoadCollection(_ context.Context, c *persist.PersistentCollection) error {
	l.collLoads.Add(1)
	size := l.batch
	if size == 0 {
		size = 1
	}
	for _, mate := range l.pc.PendingCollections(c, size) {
		mate.Add(newInstance(mate.Attribute().Target(), int64(1)))
		mate.MarkInitialized()
	}
	return nil
}

func newContext() (*persist.Context, *countingLoader) {
	l := &countingLoader{missing: map[persist.EntityKey]bool{}}
	pc := persist.NewContext(l)
	l.pc = pc
	return pc, l
}

func TestEntityKey(t *testing.T) {
	pet, dog := entity(t, "Pet"), entity(t, "Dog")
	line := entity(t, "OrderLine")

	assert.Equal(t, key(t, pet, int64(1)), key(t, dog, int64(1)), "subtypes share the root's key space")
	assert.Equal(t, key(t, pet, 1), key(t, pet, int64(1)), "identifier values are converted to their type")
	assert.Equal(t, key(t, pet, "1"), key(t, pet, int64(1)))
	assert.NotEqual(t, key(t, pet, int64(1)), key(t, entity(t, "Person"), int64(1)))
	assert.Equal(t, "Pet#1", key(t, dog, int64(1)).String())

	id := line.ID().Embeddable().New()
	line.ID().Embeddable().Attribute("orderId").Set(id, int64(1))
	line.ID().Embeddable().Attribute("lineNo").Set(id, int64(2))
	k := key(t, line, id)
	assert.Equal(t, "OrderLine#[1,2]", k.String())

	_, err := persist.NewEntityKey(pet, nil)
	assert.Error(t, err)
	line.ID().Embeddable().Attribute("lineNo").Set(id, nil)
	_, err = persist.NewEntityKey(line, id)
	assert.ErrorContains(t, err, "null identifier member")
}

func TestContext_Identity(t *testing.T) {
	pc, _ := newContext()
	person := entity(t, "Person")
	k := key(t, person, int64(1))
	ann := newInstance(person, int64(1))

	_, err := pc.Register(k, person, ann)
	require.NoError(t, err)
	_, err = pc.Register(k, person, ann)
	assert.NoError(t, err, "registering the same instance again is a no-op")
	_, err = pc.Register(k, person, newInstance(person, int64(1)))
	assert.Error(t, err, "a second instance for one key is refused")

	entry, ok := pc.Lookup(k)
	require.True(t, ok)
	assert.Same(t, ann, entry.Instance)
	assert.True(t, pc.Contains(ann))
	assert.False(t, pc.Contains(newInstance(person, int64(1))))
	got, ok := pc.KeyOf(ann)
	assert.True(t, ok)
	assert.Equal(t, k, got)
	assert.Equal(t, 1, pc.Len())
}

func TestLazyReference_LoadsExactlyOnce(t *testing.T) {
	pc, l := newContext()
	k := key(t, entity(t, "Person"), int64(7))

	r := pc.Reference(k, int64(7))
	assert.Same(t, r, pc.Reference(k, int64(7)), "one reference per key")
	assert.Equal(t, int64(7), r.ID())
	assert.Equal(t, persist.Uninitialized, r.State())
	assert.Nil(t, r.Peek())

	first, err := r.Get(context.Background())
	require.NoError(t, err)
	for range 5 {
		v, err := r.Get(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, v)
	}
	assert.Equal(t, persist.Initialized, r.State())
	assert.Equal(t, 1, r.Loads())
	assert.EqualValues(t, 1, l.entityLoads.Load())

	entry, ok := pc.Lookup(k)
	require.True(t, ok)
	assert.Same(t, entry.Instance, first)
}

func TestLazyReference_ConcurrentTriggersShareOneLoad(t *testing.T) {
	pc, l := newContext()
	l.gate = make(chan struct{})
	r := pc.Reference(key(t, entity(t, "Person"), int64(1)), int64(1))

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	for l.entityLoads.Load() == 0 {
	}
	assert.Equal(t, persist.Initializing, r.State())
	close(l.gate)
	wg.Wait()

	assert.EqualValues(t, 1, l.entityLoads.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

// selfLoader reads the reference it is loading.
type selfLoader struct {
	ref *persist.LazyReference
}

func (l *selfLoader) LoadEntity(ctx context.Context, _ persist.EntityKey) (any, error) {
	return l.ref.Get(ctx)
}

func (l *selfLoader) LoadCollection(context.Context, *persist.PersistentCollection) error {
	return nil
}

func TestLazyReference_AccessFromItsOwnLoad(t *testing.T) {
	l := &selfLoader{}
	pc := persist.NewContext(l)
	l.ref = pc.Reference(key(t, entity(t, "Person"), int64(1)), int64(1))

	done := make(chan error, 1)
	go func() {
		_, err := l.ref.Get(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		assert.True(t, persist.IsLazyInitializationError(err), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("load waited on itself")
	}
	assert.Equal(t, persist.Initialized, l.ref.State())
	assert.Equal(t, 1, l.ref.Loads())
}

func TestLazyReference_ResolvedByRegistration(t *testing.T) {
	pc, l := newContext()
	person := entity(t, "Person")
	k := key(t, person, int64(2))
	r := pc.Reference(k, int64(2))

	bob := newInstance(person, int64(2))
	_, err := pc.Register(k, person, bob)
	require.NoError(t, err)

	assert.Equal(t, persist.Initialized, r.State())
	v, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, bob, v)
	assert.Zero(t, r.Loads())
	assert.Zero(t, l.entityLoads.Load())

	k3 := key(t, person, int64(3))
	cid := newInstance(person, int64(3))
	_, err = pc.Register(k3, person, cid)
	require.NoError(t, err)
	assert.Same(t, cid, pc.Reference(k3, int64(3)).Peek(), "references to registered instances start initialized")
}

func TestLazyReference_Failures(t *testing.T) {
	person := entity(t, "Person")

	t.Run("failed load is final", func(t *testing.T) {
		pc, l := newContext()
		l.fail = errors.New("connection reset")
		k := key(t, person, int64(1))
		r := pc.Reference(k, int64(1))

		_, err := r.Get(context.Background())
		assert.ErrorIs(t, err, l.fail)
		assert.Equal(t, persist.Initialized, r.State())
		assert.Nil(t, r.Peek())

		l.fail = nil
		_, err = r.Get(context.Background())
		assert.ErrorIs(t, err, l.fail)
		assert.Equal(t, 1, r.Loads())

		// Registering the instance later still resolves the reference.
		ann := newInstance(person, int64(1))
		_, err = pc.Register(k, person, ann)
		require.NoError(t, err)
		v, err := r.Get(context.Background())
		require.NoError(t, err)
		assert.Same(t, ann, v)
	})

	t.Run("missing row", func(t *testing.T) {
		pc, l := newContext()
		k := key(t, person, int64(99))
		l.missing[k] = true
		_, err := pc.Reference(k, int64(99)).Get(context.Background())
		assert.True(t, persist.IsEntityNotFoundError(err))
	})

	t.Run("cleared context", func(t *testing.T) {
		pc, l := newContext()
		r := pc.Reference(key(t, person, int64(1)), int64(1))
		pc.Clear()
		_, err := r.Get(context.Background())
		assert.True(t, persist.IsLazyInitializationError(err))
		assert.Zero(t, l.entityLoads.Load())
		assert.Zero(t, pc.Len())
	})

	t.Run("closed context", func(t *testing.T) {
		pc, _ := newContext()
		pc.Close()
		assert.True(t, pc.Closed())
		_, err := pc.Register(key(t, person, int64(1)), person, newInstance(person, int64(1)))
		assert.True(t, persist.IsLazyInitializationError(err))
	})
}

func TestPersistentCollection(t *testing.T) {
	person := entity(t, "Person")
	pets := person.Attribute("pets")
	pc, l := newContext()
	l.batch = 2

	owners := make([]*persist.PersistentCollection, 3)
	for i := range owners {
		ok := key(t, person, int64(i+1))
		owners[i] = pc.Collection(persist.CollectionKey{Role: pets.Role(), Owner: ok}, pets, newInstance(person, int64(i+1)))
	}
	same := pc.Collection(owners[0].Key(), pets, nil)
	assert.Same(t, owners[0], same, "one collection per key")

	els, err := owners[1].Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, els, 1)
	assert.Equal(t, 1, owners[1].Loads())

	// owners[1] loaded owners[0] as its batch-mate.
	assert.Equal(t, persist.Initialized, owners[0].State())
	assert.Zero(t, owners[0].Loads())
	assert.Equal(t, persist.Uninitialized, owners[2].State())

	_, err = owners[0].Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.collLoads.Load())

	rex := newInstance(entity(t, "Dog"), int64(10))
	assert.True(t, owners[2].Add(rex))
	assert.False(t, owners[2].Add(rex), "elements are unique by instance")
	assert.Len(t, owners[2].Elements(), 1)
}

func TestContext_PendingReferences(t *testing.T) {
	pc, _ := newContext()
	person, company := entity(t, "Person"), entity(t, "Company")
	for i := int64(1); i <= 5; i++ {
		pc.Reference(key(t, person, i), i)
	}
	pc.Reference(key(t, company, int64(1)), int64(1))
	_, err := pc.Reference(key(t, person, int64(2)), int64(2)).Get(context.Background())
	require.NoError(t, err)
	uk, err := persist.NewUniqueKey(company, "code", []any{"ACME"})
	require.NoError(t, err)
	byCode := pc.Reference(uk, []any{"ACME"})

	var ids []any
	for _, r := range pc.PendingReferences(pc.Reference(key(t, person, int64(4)), int64(4)), 3) {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []any{int64(4), int64(1), int64(3)}, ids)
	assert.Len(t, pc.PendingReferences(byCode, 3), 1, "unique key references are not batched")
}

func TestLazyReference_UniqueKey(t *testing.T) {
	pc, l := newContext()
	company := entity(t, "Company")
	uk, err := persist.NewUniqueKey(company, "code", []any{"ACME"})
	require.NoError(t, err)
	assert.Equal(t, "Company.code#\"ACME\"", uk.String())
	assert.False(t, uk.IsPrimary())

	r := pc.Reference(uk, []any{"ACME"})
	acme := newInstance(company, int64(1))
	_, err = pc.Register(key(t, company, int64(1)), company, acme)
	require.NoError(t, err)
	assert.Equal(t, persist.Uninitialized, r.State(), "registration by primary key does not touch unique key references")
	pc.RegisterUniqueKey(uk, acme)
	assert.Same(t, acme, r.Peek())

	missing, err := persist.NewUniqueKey(company, "code", []any{"NONE"})
	require.NoError(t, err)
	l.missing[missing] = true
	v, err := pc.Reference(missing, []any{"NONE"}).Get(context.Background())
	require.NoError(t, err, "a missing unique key target is null, not an error")
	assert.Nil(t, v)

	_, err = persist.NewUniqueKey(company, "code", []any{"A", "B"})
	assert.Error(t, err)
}

func TestContext_SubselectGroups(t *testing.T) {
	pc, _ := newContext()
	person := entity(t, "Person")
	pets := person.Attribute("pets")
	a := pc.Collection(persist.CollectionKey{Role: pets.Role(), Owner: key(t, person, int64(1))}, pets, nil)
	b := pc.Collection(persist.CollectionKey{Role: pets.Role(), Owner: key(t, person, int64(2))}, pets, nil)

	g := &persist.SubselectGroup{Attribute: pets, Collections: []*persist.PersistentCollection{a, b}, Query: "q"}
	pc.AddSubselectGroup(g)
	got, ok := pc.SubselectGroup(b)
	require.True(t, ok)
	assert.Same(t, g, got)

	pc.RemoveSubselectGroup(g)
	_, ok = pc.SubselectGroup(a)
	assert.False(t, ok)
}
