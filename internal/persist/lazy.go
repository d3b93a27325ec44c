package persist

import (
	"context"
	"sync"
)

// State is the initialization state of a LazyReference or
// PersistentCollection. It only moves forward: a failed load also ends
// Initialized, and every later access returns the load's error until the
// value is resolved by registration.
type State int

const (
	Uninitialized State = iota
	Initializing
	Initialized
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// lazyState is the state machine shared by references and collections.
// A trigger while a load is in flight waits for it instead of loading
// again. A trigger from inside the load itself fails, since waiting would
// never return.
type lazyState struct {
	mu    sync.Mutex
	state State
	done  chan struct{}
	err   error
	loads int
}

// loadingKey marks the contexts passed to loads with the states they are
// initializing.
type loadingKey struct{}

type loading struct {
	s      *lazyState
	parent *loading
}

func (s *lazyState) loadingIn(ctx context.Context) bool {
	for l, _ := ctx.Value(loadingKey{}).(*loading); l != nil; l = l.parent {
		if l.s == s {
			return true
		}
	}
	return false
}

// initialize runs load unless the state is Initialized or a load is in
// flight, in which case it waits for that load's outcome.
func (s *lazyState) initialize(ctx context.Context, target string, load func(context.Context) error) error {
	s.mu.Lock()
	switch s.state {
	case Initialized:
		defer s.mu.Unlock()
		return s.err
	case Initializing:
		done := s.done
		s.mu.Unlock()
		if s.loadingIn(ctx) {
			return &LazyInitializationError{Target: target, Reason: "accessed by its own load"}
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	}
	s.state = Initializing
	s.done = make(chan struct{})
	s.loads++
	s.mu.Unlock()

	parent, _ := ctx.Value(loadingKey{}).(*loading)
	err := load(context.WithValue(ctx, loadingKey{}, &loading{s: s, parent: parent}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Initializing {
		s.err = err
	}
	s.state = Initialized
	close(s.done)
	return s.err
}

// resolve moves straight to Initialized; set runs under the lock.
func (s *lazyState) resolve(set func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set()
	s.err = nil
	s.state = Initialized
}

func (s *lazyState) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LazyReference is a to-one association value that may not be loaded yet.
// A Context hands out one reference per EntityKey, so every holder of the
// same target shares its state.
type LazyReference struct {
	lazyState
	key   EntityKey
	id    any
	ctx   *Context
	value any
}

// Key returns the target's key.
func (r *LazyReference) Key() EntityKey { return r.key }

// ID returns the values the key was built from: the identifier for a
// primary key, the leaf values of a unique key, the owner's identifier for
// an inverse to-one.
func (r *LazyReference) ID() any { return r.id }

// State returns the current state.
func (r *LazyReference) State() State { return r.current() }

// Loads returns how many loads the reference issued.
func (r *LazyReference) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// Peek returns the target without loading it, nil when not initialized.
func (r *LazyReference) Peek() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Initialized {
		return nil
	}
	return r.value
}

// Get returns the target, loading it through the owning context on first
// access. A missing row is an error for primary keys; references by unique
// key or inverse to-one resolve to nil.
func (r *LazyReference) Get(ctx context.Context) (any, error) {
	err := r.initialize(ctx, r.key.String(), func(ctx context.Context) error {
		pc := r.ctx
		if pc == nil || pc.closed {
			return &LazyInitializationError{Target: r.key.String(), Reason: "no open persistence context"}
		}
		if pc.loader == nil {
			return &LazyInitializationError{Target: r.key.String(), Reason: "no loader"}
		}
		v, err := pc.loader.LoadEntity(ctx, r.key)
		if err != nil {
			return err
		}
		if v == nil && r.key.IsPrimary() {
			return &EntityNotFoundError{Key: r.key}
		}
		// Registering the loaded instance normally resolved r already.
		r.mu.Lock()
		r.value = v
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Peek(), nil
}

func (r *LazyReference) resolveTo(v any) {
	r.resolve(func() { r.value = v })
}
