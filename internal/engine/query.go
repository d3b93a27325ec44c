package engine

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/sqlast"
	"github.com/roach88/oql/internal/store"
)

// Query is one executable statement of a session with its parameter
// values and options. Setters for options return the query for chaining.
type Query struct {
	s      *Session
	text   string
	stmt   queryir.Statement
	params *queryir.ParameterTable
	values map[string]any

	first, max       int
	hasFirst, hasMax bool
	timeout          time.Duration
	fetchSize        int
	maxRows          int
	readOnly         bool
}

func newQuery(s *Session, text string, stmt queryir.Statement) *Query {
	q := &Query{s: s, text: text, stmt: stmt, values: make(map[string]any)}
	switch st := stmt.(type) {
	case *queryir.SelectStatement:
		q.params = st.Parameters()
	case *queryir.UpdateStatement:
		q.params = st.Parameters()
	case *queryir.DeleteStatement:
		q.params = st.Parameters()
	}
	return q
}

// Text returns the query text, empty for criteria queries.
func (q *Query) Text() string { return q.text }

// Parameters lists the query's parameter slots in first-use order.
func (q *Query) Parameters() []*queryir.ParamSlot {
	if q.params == nil {
		return nil
	}
	return q.params.Slots
}

// SetParameter binds the named parameter, with or without its leading
// colon. In-list parameters take a slice.
func (q *Query) SetParameter(name string, value any) error {
	return q.set(":"+strings.TrimPrefix(name, ":"), value)
}

// SetPositional binds parameter ?n.
func (q *Query) SetPositional(n int, value any) error {
	return q.set("?"+strconv.Itoa(n), value)
}

func (q *Query) set(label string, value any) error {
	slot := q.params.Lookup(label)
	if slot == nil {
		return &QueryError{Code: ErrCodeUnknownParameter, Message: "the query declares no such parameter", Query: q.text, Parameter: label}
	}
	list, isList := toList(value)
	switch {
	case slot.Multi && !isList:
		return &QueryError{Code: ErrCodeInvalidParameter, Message: fmt.Sprintf("in-list parameter needs a slice, got %T", value), Query: q.text, Parameter: label}
	case !slot.Multi && isList:
		return &QueryError{Code: ErrCodeInvalidParameter, Message: "slice bound to a single-valued parameter", Query: q.text, Parameter: label}
	case isList:
		q.values[label] = list
	default:
		q.values[label] = value
	}
	return nil
}

// SetFirstResult skips the first n results.
func (q *Query) SetFirstResult(n int) *Query {
	q.first, q.hasFirst = n, true
	return q
}

// SetMaxResults caps the number of results.
func (q *Query) SetMaxResults(n int) *Query {
	q.max, q.hasMax = n, true
	return q
}

// SetTimeout overrides the factory's statement timeout.
func (q *Query) SetTimeout(d time.Duration) *Query {
	q.timeout = d
	return q
}

// SetFetchSize overrides the factory's fetch size hint.
func (q *Query) SetFetchSize(n int) *Query {
	q.fetchSize = n
	return q
}

// SetMaxRows caps the rows read from the cursor, independent of paging.
func (q *Query) SetMaxRows(n int) *Query {
	q.maxRows = n
	return q
}

// SetReadOnly marks the query as a read. ExecuteUpdate refuses read-only
// queries.
func (q *Query) SetReadOnly(on bool) *Query {
	q.readOnly = on
	return q
}

func (q *Query) options() store.Options {
	opts := q.s.defaultOptions()
	if q.timeout > 0 {
		opts.Timeout = q.timeout
	}
	if q.fetchSize > 0 {
		opts.FetchSize = q.fetchSize
	}
	opts.MaxRows = q.maxRows
	return opts
}

// prepare checks every parameter is bound and returns the plan for the
// bound in-list sizes.
func (q *Query) prepare() (*querysql.Plan, *paramValues, error) {
	if err := q.s.checkOpen(); err != nil {
		return nil, nil, err
	}
	card := make(map[string]int)
	for _, slot := range q.Parameters() {
		v, ok := q.values[slot.Label()]
		if !ok {
			return nil, nil, &QueryError{Code: ErrCodeMissingParameter, Message: "no value bound", Query: q.text, Parameter: slot.Label()}
		}
		if slot.Multi {
			card[slot.Label()] = len(v.([]any))
		}
	}
	plan, err := q.s.f.plan(q.text, q.stmt, querysql.Options{
		Cardinalities: card,
		FirstResult:   q.hasFirst,
		MaxResults:    q.hasMax,
	})
	if err != nil {
		return nil, nil, err
	}
	return plan, &paramValues{values: q.values, first: q.first, max: q.max}, nil
}

func (q *Query) prepareSelect(op string) (*querysql.Plan, *paramValues, error) {
	plan, vals, err := q.prepare()
	if err != nil {
		return nil, nil, err
	}
	if plan.Kind != querysql.KindSelect {
		return nil, nil, &IllegalQueryOperationError{Operation: op, Statement: plan.Kind.String()}
	}
	return plan, vals, nil
}

// List executes a select and returns every result. A result is the
// selected value for a single select item and a []any tuple otherwise.
func (q *Query) List(ctx context.Context) ([]any, error) {
	plan, vals, err := q.prepareSelect("list")
	if err != nil {
		return nil, err
	}
	return q.s.list(ctx, plan, vals, q.options(), q.text)
}

// SingleResult executes a select expected to return at most one result.
// It returns nil when there is none.
func (q *Query) SingleResult(ctx context.Context) (any, error) {
	results, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return nil, &QueryError{Code: ErrCodeNonUniqueResult, Message: fmt.Sprintf("%d results", len(results)), Query: q.text}
	}
}

// Scroll executes a select and materializes results as the iteration
// reads rows. Breaking out of the loop closes the statement. Lazy loads
// triggered while the iteration is open need a second connection.
func (q *Query) Scroll(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		plan, vals, err := q.prepareSelect("scroll")
		if err != nil {
			yield(nil, err)
			return
		}
		q.s.scroll(ctx, plan, vals, q.options(), q.text, yield)
	}
}

// ExecuteUpdate runs an update or delete and returns the affected row
// count.
func (q *Query) ExecuteUpdate(ctx context.Context) (int64, error) {
	plan, vals, err := q.prepare()
	if err != nil {
		return 0, err
	}
	if plan.Kind == querysql.KindSelect {
		return 0, &IllegalQueryOperationError{Operation: "executeUpdate", Statement: plan.Kind.String()}
	}
	if q.readOnly {
		return 0, &IllegalQueryOperationError{Operation: "executeUpdate", Statement: "read-only " + plan.Kind.String()}
	}
	args, err := q.s.resolveArgs(ctx, plan.Bindings, vals)
	if err != nil {
		return 0, err
	}
	return q.s.update(ctx, plan, args, q.options())
}

// paramValues are the values a plan's bindings read.
type paramValues struct {
	// values holds bound values by slot label; in-list values are []any.
	values     map[string]any
	first, max int
}

func (s *Session) resolveArgs(ctx context.Context, bindings []sqlast.Binding, vals *paramValues) ([]any, error) {
	args := make([]any, len(bindings))
	for i, b := range bindings {
		v, err := s.bindingValue(ctx, b, vals)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// bindingValue computes the value of one placeholder. Padding placeholders
// repeat the last element of their list.
func (s *Session) bindingValue(ctx context.Context, b sqlast.Binding, vals *paramValues) (any, error) {
	var v any
	switch b.Param {
	case "":
		lit, err := ir.ToGo(b.Literal)
		if err != nil {
			return nil, err
		}
		v = lit
	case querysql.FirstResultParam:
		v = int64(vals.first)
	case querysql.MaxResultsParam:
		v = int64(vals.max)
	default:
		raw, ok := vals.values[b.Param]
		if !ok {
			return nil, &QueryError{Code: ErrCodeMissingParameter, Message: "no value bound", Parameter: b.Param}
		}
		if b.Element >= 0 {
			list, _ := raw.([]any)
			if len(list) == 0 {
				raw = nil
			} else {
				raw = list[min(b.Element, len(list)-1)]
			}
		}
		v = raw
	}
	if len(b.Key) > 0 {
		var err error
		if v, err = walkKey(ctx, v, b.Key); err != nil {
			return nil, err
		}
	}
	if b.Type == metamodel.TypeUnknown || v == nil {
		return v, nil
	}
	conv, err := b.Type.Convert(v)
	if err != nil {
		return nil, &QueryError{Code: ErrCodeInvalidParameter, Message: err.Error(), Parameter: b.Param}
	}
	return conv, nil
}

// walkKey reads path from an entity or embedded value. A reference that
// is not initialized yields its identifier without loading when the path
// asks for the primary key; any other attribute loads the target.
func walkKey(ctx context.Context, v any, path []*metamodel.Attribute) (any, error) {
	for _, a := range path {
		if v == nil {
			return nil, nil
		}
		if ref, ok := v.(*persist.LazyReference); ok {
			if inst := ref.Peek(); inst != nil {
				v = inst
			} else if ref.Key().IsPrimary() && a == ref.Key().Root.ID() {
				v = ref.ID()
				continue
			} else {
				inst, err := ref.Get(ctx)
				if err != nil {
					return nil, err
				}
				if inst == nil {
					return nil, nil
				}
				v = inst
			}
		}
		v = a.Get(v)
	}
	if ref, ok := v.(*persist.LazyReference); ok {
		return ref.ID(), nil
	}
	return v, nil
}

// toList reports whether v is a slice bound to an in-list parameter and
// returns its elements.
func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []int:
		return anys(l), true
	case []int64:
		return anys(l), true
	case []int32:
		return anys(l), true
	case []string:
		return anys(l), true
	case []float64:
		return anys(l), true
	case []bool:
		return anys(l), true
	case []decimal.Decimal:
		return anys(l), true
	case []time.Time:
		return anys(l), true
	default:
		return nil, false
	}
}

func anys[T any](l []T) []any {
	out := make([]any, len(l))
	for i, v := range l {
		out[i] = v
	}
	return out
}
