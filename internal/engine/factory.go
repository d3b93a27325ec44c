package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/oql/internal/binder"
	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/store"
)

// Defaults applied when no option overrides them.
const (
	DefaultPlanCacheSize  = 256
	DefaultMaxFetchDepth  = 3
	DefaultBatchFetchSize = 1
)

// Instantiator builds the result of "new Name(args...)" for a registered
// name.
type Instantiator func(args []any) (any, error)

// Factory holds everything sessions share: the metamodel, the compiler for
// one dialect, the database client and the plan cache. A Factory is safe
// for concurrent use; the sessions it opens are not.
type Factory struct {
	meta     *metamodel.Metamodel
	dialect  *dialect.Dialect
	compiler *querysql.Compiler
	client   store.Client
	schema   store.Schema
	logger   *slog.Logger
	metrics  *Metrics
	ids      IDGenerator
	clock    *Clock
	cache    *planCache

	padding       bool
	cacheSize     int
	batchSize     int
	maxFetchDepth int
	timeout       time.Duration
	fetchSize     int
	instantiators map[string]Instantiator
	inverseToOnes map[string]*metamodel.Attribute
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithMetrics sets the counters. Default: unregistered counters.
func WithMetrics(m *Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithIDGenerator sets the session id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(f *Factory) { f.ids = g }
}

// WithSchema sets the names substituted for schema placeholders.
func WithSchema(s store.Schema) Option {
	return func(f *Factory) { f.schema = s }
}

// WithPadding enables in-list parameter padding.
func WithPadding(on bool) Option {
	return func(f *Factory) { f.padding = on }
}

// WithPlanCacheSize bounds the plan cache; 0 disables it.
func WithPlanCacheSize(n int) Option {
	return func(f *Factory) { f.cacheSize = n }
}

// WithBatchFetchSize sets how many pending references, or collections
// without their own batch size, one deferred load covers.
func WithBatchFetchSize(n int) Option {
	return func(f *Factory) { f.batchSize = n }
}

// WithMaxFetchDepth bounds how deep loader statements join eagerly fetched
// associations.
func WithMaxFetchDepth(n int) Option {
	return func(f *Factory) { f.maxFetchDepth = n }
}

// WithQueryTimeout sets the default statement timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(f *Factory) { f.timeout = d }
}

// WithFetchSize sets the default fetch size hint.
func WithFetchSize(n int) Option {
	return func(f *Factory) { f.fetchSize = n }
}

// WithInstantiator registers a target for "new name(...)".
func WithInstantiator(name string, fn Instantiator) Option {
	return func(f *Factory) { f.instantiators[name] = fn }
}

// NewFactory creates a factory compiling for d and executing through
// client.
func NewFactory(meta *metamodel.Metamodel, d *dialect.Dialect, client store.Client, opts ...Option) (*Factory, error) {
	f := &Factory{
		meta:          meta,
		dialect:       d,
		client:        client,
		logger:        slog.Default(),
		ids:           UUIDv7Generator{},
		clock:         NewClock(),
		cacheSize:     DefaultPlanCacheSize,
		batchSize:     DefaultBatchFetchSize,
		maxFetchDepth: DefaultMaxFetchDepth,
		instantiators: make(map[string]Instantiator),
		inverseToOnes: make(map[string]*metamodel.Attribute),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = NewMetrics(nil)
	}
	if f.batchSize < 1 {
		f.batchSize = 1
	}
	f.compiler = querysql.NewCompiler(d, f.padding)
	cache, err := newPlanCache(f.cacheSize, f.metrics, f.logger)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	f.cache = cache
	for _, e := range meta.Entities() {
		for _, a := range e.DeclaredAttributes() {
			if a.Kind() == metamodel.KindToOne && !a.IsOwningToOne() {
				f.inverseToOnes[a.Role()] = a
			}
		}
	}
	return f, nil
}

// Metamodel returns the metamodel queries bind against.
func (f *Factory) Metamodel() *metamodel.Metamodel { return f.meta }

// Dialect returns the target dialect.
func (f *Factory) Dialect() *dialect.Dialect { return f.dialect }

// Metrics returns the factory's counters.
func (f *Factory) Metrics() *Metrics { return f.metrics }

// CachedPlans returns the number of compiled plans in the cache.
func (f *Factory) CachedPlans() int { return f.cache.Len() }

// OpenSession starts a unit of work.
func (f *Factory) OpenSession() *Session {
	return newSession(f)
}

// Bind parses and binds text, through the cache.
func (f *Factory) Bind(text string) (queryir.Statement, error) {
	return f.cache.statement(text, func() (queryir.Statement, error) {
		return binder.BindText(text, f.meta, binder.Options{
			Instantiations: slices.Sorted(maps.Keys(f.instantiators)),
		})
	})
}

// Translate binds and compiles text for the given in-list cardinalities.
func (f *Factory) Translate(text string, cardinalities map[string]int) (*querysql.Plan, error) {
	stmt, err := f.Bind(text)
	if err != nil {
		return nil, err
	}
	return f.plan(text, stmt, querysql.Options{Cardinalities: cardinalities})
}

// plan compiles stmt, caching the result under text when text is not
// empty. Plans compiled for equal in-list signatures are shared.
func (f *Factory) plan(text string, stmt queryir.Statement, opts querysql.Options) (*querysql.Plan, error) {
	compile := func() (*querysql.Plan, error) { return f.compiler.Compile(stmt, opts) }
	if text == "" {
		return compile()
	}
	parts := []string{text, f.signature(opts.Cardinalities), pagingFlags(opts)}
	return f.cache.plan(parts, compile)
}

// loaderPlan compiles a loader statement binding n keys.
func (f *Factory) loaderPlan(kind, name string, n int, build func() (*queryir.SelectStatement, error)) (*querysql.Plan, error) {
	card := map[string]int{querysql.KeysLabel: n}
	parts := []string{kind + " " + name, f.signature(card), strconv.Itoa(f.maxFetchDepth)}
	return f.cache.plan(parts, func() (*querysql.Plan, error) {
		stmt, err := build()
		if err != nil {
			return nil, err
		}
		return f.compiler.Compile(stmt, querysql.Options{Cardinalities: card})
	})
}

// signature renders in-list cardinalities as the placeholder group sizes
// they compile to, in label order.
func (f *Factory) signature(card map[string]int) string {
	var b strings.Builder
	for _, label := range slices.Sorted(maps.Keys(card)) {
		b.WriteString(label)
		b.WriteByte('=')
		for i, n := range f.compiler.InListSignature(card[label]) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(n))
		}
		b.WriteByte(';')
	}
	return b.String()
}

func pagingFlags(opts querysql.Options) string {
	return strconv.FormatBool(opts.FirstResult) + "," + strconv.FormatBool(opts.MaxResults)
}

// collectionBatchSize returns how many collections of attr one deferred load covers.
func (f *Factory) collectionBatchSize(attr *metamodel.Attribute) int {
	if attr.Fetch() == metamodel.FetchBatch && attr.BatchSize() > 0 {
		return attr.BatchSize()
	}
	return f.batchSize
}

// inverseAttribute resolves the attribute named by an inverse to-one key.
func (f *Factory) inverseAttribute(k persist.EntityKey) *metamodel.Attribute {
	return f.inverseToOnes[strings.TrimPrefix(k.Unique, "~")]
}
