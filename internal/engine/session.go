package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/store"
)

// Session is one unit of work: a persistence context plus the statements
// it has open. Sessions are not safe for concurrent use.
type Session struct {
	id       string
	f        *Factory
	pc       *persist.Context
	exec     *store.Executor
	logger   *slog.Logger
	warnings []*InconsistentAssociationState
	closed   bool
}

func newSession(f *Factory) *Session {
	s := &Session{id: f.ids.Generate(), f: f}
	s.logger = f.logger.With("session", s.id)
	s.exec = store.NewExecutor(f.client, f.schema, s.logger)
	s.pc = persist.NewContext(&loader{s: s})
	s.logger.Info("session opened")
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// PersistenceContext exposes the identity map.
func (s *Session) PersistenceContext() *persist.Context { return s.pc }

// Warnings returns the inconsistent association states observed since the
// session opened or was last cleared.
func (s *Session) Warnings() []*InconsistentAssociationState {
	return append([]*InconsistentAssociationState(nil), s.warnings...)
}

func (s *Session) checkOpen() error {
	if s.closed {
		return &QueryError{Code: ErrCodeSessionClosed, Message: "session " + s.id + " is closed"}
	}
	return nil
}

// CreateQuery binds text and returns a query for it.
func (s *Session) CreateQuery(text string) (*Query, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stmt, err := s.f.Bind(text)
	if err != nil {
		return nil, err
	}
	return newQuery(s, text, stmt), nil
}

// CreateCriteriaQuery returns a query for a statement built with the
// criteria package. Its plans are compiled per execution.
func (s *Session) CreateCriteriaQuery(stmt queryir.Statement) *Query {
	return newQuery(s, "", stmt)
}

func (s *Session) entity(name string) (*metamodel.EntityType, error) {
	e := s.f.meta.Entity(name)
	if e == nil {
		return nil, &QueryError{Code: ErrCodeUnknownEntity, Message: fmt.Sprintf("unknown entity %q", name)}
	}
	return e, nil
}

// Find returns the entity instance with the given identifier, loading it
// when the session does not hold it yet. It returns nil when no row
// exists or the row is not an instance of entity.
func (s *Session) Find(ctx context.Context, entity string, id any) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	key, err := persist.NewEntityKey(e, id)
	if err != nil {
		return nil, err
	}
	if _, ok := s.pc.Lookup(key); !ok {
		if _, err := s.pc.Reference(key, id).Get(ctx); err != nil {
			if persist.IsEntityNotFoundError(err) {
				return nil, nil
			}
			return nil, err
		}
	}
	entry, ok := s.pc.Lookup(key)
	if !ok || !entry.Type.IsSubtypeOf(e) {
		return nil, nil
	}
	return entry.Instance, nil
}

// GetReference returns the reference to the entity with the given
// identifier without loading it.
func (s *Session) GetReference(entity string, id any) (*persist.LazyReference, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	key, err := persist.NewEntityKey(e, id)
	if err != nil {
		return nil, err
	}
	return s.pc.Reference(key, id), nil
}

// Contains reports whether instance belongs to this session.
func (s *Session) Contains(instance any) bool { return s.pc.Contains(instance) }

// Clear detaches every instance. References and collections handed out
// before can no longer be initialized.
func (s *Session) Clear() {
	s.pc.Clear()
	s.warnings = nil
	s.logger.Debug("session cleared")
}

// Close releases every open statement and detaches all instances. Closing
// twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	open := s.exec.OpenStatements()
	err := s.exec.Close()
	s.pc.Close()
	s.logger.Info("session closed", "abandoned_statements", open)
	return err
}

func (s *Session) warn(w *InconsistentAssociationState) {
	s.warnings = append(s.warnings, w)
	s.f.metrics.Warnings.Inc()
	s.logger.Warn("inconsistent association state", "owner", w.Owner.String(), "attribute", w.Attribute, "foreign_key", fmt.Sprint(w.ForeignKey))
}

// query dispatches a select.
func (s *Session) query(ctx context.Context, plan *querysql.Plan, args []any, opts store.Options) (*store.Rows, error) {
	seq := s.f.clock.Next()
	s.logger.Debug("executing statement", "seq", seq, "kind", plan.Kind.String(), "sql", plan.SQL, "bindings", len(args))
	rows, err := s.exec.Query(ctx, plan.SQL, args, opts)
	s.count(plan.Kind, err)
	return rows, err
}

// update dispatches an update or delete.
func (s *Session) update(ctx context.Context, plan *querysql.Plan, args []any, opts store.Options) (int64, error) {
	seq := s.f.clock.Next()
	s.logger.Debug("executing statement", "seq", seq, "kind", plan.Kind.String(), "sql", plan.SQL, "bindings", len(args))
	n, err := s.exec.Update(ctx, plan.SQL, args, opts)
	s.count(plan.Kind, err)
	return n, err
}

func (s *Session) count(kind querysql.StatementKind, err error) {
	s.f.metrics.StatementsExecuted.WithLabelValues(kind.String()).Inc()
	if err != nil {
		s.f.metrics.StatementsFailed.Inc()
	}
}

// defaultOptions are the statement options loader statements run with.
func (s *Session) defaultOptions() store.Options {
	return store.Options{Timeout: s.f.timeout, FetchSize: s.f.fetchSize}
}

// loader initializes references and collections for the session's
// persistence context. Loads run between statements, never while a
// cursor of the same session is being read by the materializer.
type loader struct {
	s *Session
}

func (l *loader) LoadEntity(ctx context.Context, key persist.EntityKey) (any, error) {
	s := l.s
	s.f.metrics.LazyLoads.WithLabelValues("entity").Inc()
	s.logger.Debug("lazy load", "target", key.String())
	switch {
	case key.IsPrimary():
		return s.loadByID(ctx, key)
	case strings.HasPrefix(key.Unique, "~"):
		return s.loadInverse(ctx, key)
	default:
		return s.loadByUniqueKey(ctx, key)
	}
}

func (l *loader) LoadCollection(ctx context.Context, c *persist.PersistentCollection) error {
	s := l.s
	s.f.metrics.LazyLoads.WithLabelValues("collection").Inc()
	s.logger.Debug("lazy load", "target", c.Key().String())
	if g, ok := s.pc.SubselectGroup(c); ok {
		return s.loadSubselect(ctx, g)
	}
	attr := c.Attribute()
	mates := s.pc.PendingCollections(c, s.f.collectionBatchSize(attr))
	owner := declaringEntity(attr)
	ids := make([]any, len(mates))
	for i, m := range mates {
		ids[i] = owner.ID().Get(m.Owner())
	}
	plan, err := s.f.loaderPlan("collection", attr.Role(), len(ids), func() (*queryir.SelectStatement, error) {
		return querysql.CollectionLoader(attr, s.f.maxFetchDepth)
	})
	if err != nil {
		return err
	}
	results, err := s.list(ctx, plan, keyValues(ids), s.defaultOptions(), "")
	if err != nil {
		return err
	}
	return s.fill(attr, mates, results)
}

// loadByID loads the entity with key together with up to the batch size
// of other pending references to its hierarchy.
func (s *Session) loadByID(ctx context.Context, key persist.EntityKey) (any, error) {
	refs := s.pc.PendingReferences(s.pc.Reference(key, nil), s.f.batchSize)
	ids := make([]any, len(refs))
	for i, r := range refs {
		ids[i] = r.ID()
	}
	e := key.Root
	plan, err := s.f.loaderPlan("entity", e.Name(), len(ids), func() (*queryir.SelectStatement, error) {
		return querysql.EntityLoader(e, s.f.maxFetchDepth)
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.list(ctx, plan, keyValues(ids), s.defaultOptions(), ""); err != nil {
		return nil, err
	}
	if entry, ok := s.pc.Lookup(key); ok {
		return entry.Instance, nil
	}
	return nil, nil
}

func (s *Session) loadByUniqueKey(ctx context.Context, key persist.EntityKey) (any, error) {
	ref := s.pc.Reference(key, nil)
	values, _ := ref.ID().([]any)
	e := key.Root
	plan, err := s.f.loaderPlan("unique", e.Name()+"."+key.Unique, 0, func() (*queryir.SelectStatement, error) {
		return querysql.UniqueKeyLoader(e, key.Unique)
	})
	if err != nil {
		return nil, err
	}
	vals := &paramValues{values: make(map[string]any, len(values))}
	for i, v := range values {
		vals.values[":"+querysql.UniqueKeyParam(i)] = v
	}
	results, err := s.list(ctx, plan, vals, s.defaultOptions(), "")
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// loadInverse loads the target of an inverse to-one for one owner.
func (s *Session) loadInverse(ctx context.Context, key persist.EntityKey) (any, error) {
	attr := s.f.inverseAttribute(key)
	if attr == nil {
		return nil, fmt.Errorf("no inverse association for %s", key)
	}
	ref := s.pc.Reference(key, nil)
	plan, err := s.f.loaderPlan("collection", attr.Role(), 1, func() (*queryir.SelectStatement, error) {
		return querysql.CollectionLoader(attr, s.f.maxFetchDepth)
	})
	if err != nil {
		return nil, err
	}
	results, err := s.list(ctx, plan, keyValues([]any{ref.ID()}), s.defaultOptions(), "")
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0].([]any)[1], nil
}

// subselectQuery is what a subselect group replays: the loader derived
// from the owners' query, bound to that query's parameter values.
type subselectQuery struct {
	text string
	stmt *queryir.SelectStatement
	opts querysql.Options
	vals *paramValues
}

func (s *Session) loadSubselect(ctx context.Context, g *persist.SubselectGroup) error {
	q := g.Query.(*subselectQuery)
	text := ""
	if q.text != "" {
		text = "subselect " + g.Attribute.Role() + " " + q.text
	}
	plan, err := s.f.plan(text, q.stmt, q.opts)
	if err != nil {
		return err
	}
	results, err := s.list(ctx, plan, q.vals, s.defaultOptions(), "")
	if err != nil {
		return err
	}
	if err := s.fill(g.Attribute, g.Collections, results); err != nil {
		return err
	}
	s.pc.RemoveSubselectGroup(g)
	return nil
}

// fill adds loader rows (owner id, element) to the owners' collections and
// marks every collection in colls initialized.
func (s *Session) fill(attr *metamodel.Attribute, colls []*persist.PersistentCollection, results []any) error {
	owner := declaringEntity(attr)
	for _, r := range results {
		tuple := r.([]any)
		ok, err := persist.NewEntityKey(owner, tuple[0])
		if err != nil {
			return err
		}
		if c, found := s.pc.LookupCollection(persist.CollectionKey{Role: attr.Role(), Owner: ok}); found && tuple[1] != nil {
			c.Add(tuple[1])
		}
	}
	for _, c := range colls {
		c.MarkInitialized()
	}
	s.f.metrics.CollectionsLoaded.Add(float64(len(colls)))
	return nil
}

func keyValues(ids []any) *paramValues {
	return &paramValues{values: map[string]any{querysql.KeysLabel: ids}}
}

func declaringEntity(a *metamodel.Attribute) *metamodel.EntityType {
	if e, ok := a.Declarer().(*metamodel.EntityType); ok {
		return e
	}
	return nil
}
