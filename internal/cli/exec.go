package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/oql/internal/engine"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/persist"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Params      []string // name=value, repeatable
	DSN         string
	Driver      string
	FirstResult int
	MaxResults  int
}

// ExecResult is the JSON payload of the exec command.
type ExecResult struct {
	Kind     string     `json:"kind"`
	SQL      string     `json:"sql"`
	Results  [][]string `json:"results,omitempty"`
	Affected *int64     `json:"affected,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <query|->",
		Short: "Run a query against the database",
		Long: `Run a select, update or delete against the configured database.

Parameters are passed as --param name=value, or --param 1=value for
positional parameters. In-list parameters take comma separated values.
An entity-valued parameter takes the identifier of the entity.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter value (name=value)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "database DSN, overrides the settings")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "database driver, overrides the settings")
	cmd.Flags().IntVar(&opts.FirstResult, "first-result", 0, "results to skip")
	cmd.Flags().IntVar(&opts.MaxResults, "max-results", 0, "maximum results (0 = no limit)")

	return cmd
}

func runExec(ctx context.Context, opts *ExecOptions, arg string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	text, err := readQuery(arg, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	env, err := loadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	if opts.DSN != "" {
		env.settings.DSN = opts.DSN
	}
	if opts.Driver != "" {
		env.settings.Driver = opts.Driver
	}
	db, err := env.openDatabase()
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	defer db.Close()

	f, err := env.factory(db)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	session := f.OpenSession()
	defer session.Close()

	q, err := session.CreateQuery(text)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	card, err := bindParams(session, q, opts.Params)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	if opts.FirstResult > 0 {
		q.SetFirstResult(opts.FirstResult)
	}
	if opts.MaxResults > 0 {
		q.SetMaxResults(opts.MaxResults)
	}

	// Describes the statement compiled for the bound in-list sizes.
	plan, err := f.Translate(text, card)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	result := ExecResult{Kind: plan.Kind.String(), SQL: plan.SQL}
	formatter.VerboseLog("session %s: %s", session.ID(), plan.SQL)

	if plan.Kind == querysql.KindSelect {
		rows, err := q.List(ctx)
		if err != nil {
			return formatter.Fail(ExitFailure, err)
		}
		result.Results = make([][]string, len(rows))
		for i, r := range rows {
			result.Results[i] = renderResult(r)
		}
	} else {
		n, err := q.ExecuteUpdate(ctx)
		if err != nil {
			return formatter.Fail(ExitFailure, err)
		}
		result.Affected = &n
	}
	for _, w := range session.Warnings() {
		result.Warnings = append(result.Warnings, w.Error())
	}

	return formatter.Success(result, func(w io.Writer) {
		if result.Affected != nil {
			fmt.Fprintf(w, "%d rows affected\n", *result.Affected)
		}
		for _, r := range result.Results {
			fmt.Fprintln(w, strings.Join(r, " | "))
		}
		if result.Results != nil {
			fmt.Fprintf(w, "(%d results)\n", len(result.Results))
		}
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warning)
		}
	})
}

// bindParams binds name=value pairs to q and returns the size of each
// bound in-list. Values stay strings except for entity-valued parameters,
// which become references to the identified entity; the engine converts
// basic values to their parameter's type.
func bindParams(s *engine.Session, q *engine.Query, params []string) (map[string]int, error) {
	card := make(map[string]int)
	for _, p := range params {
		name, raw, ok := strings.Cut(p, "=")
		if !ok {
			return nil, &LoadError{Code: ErrCodeParameter, Message: fmt.Sprintf("parameter %q is not name=value", p)}
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, ":"), "?")
		label := ":" + name
		n, posErr := strconv.Atoi(name)
		if posErr == nil {
			label = "?" + name
		}
		slot := lookupSlot(q, label)
		if slot == nil {
			// Let the query report the unknown parameter.
			if posErr == nil {
				return nil, q.SetPositional(n, raw)
			}
			return nil, q.SetParameter(name, raw)
		}

		var value any = raw
		if slot.Multi {
			parts := strings.Split(raw, ",")
			list := make([]any, len(parts))
			for i, part := range parts {
				v, err := paramValue(s, slot, strings.TrimSpace(part))
				if err != nil {
					return nil, err
				}
				list[i] = v
			}
			value = list
			card[label] = len(list)
		} else {
			v, err := paramValue(s, slot, raw)
			if err != nil {
				return nil, err
			}
			value = v
		}

		var err error
		if posErr == nil {
			err = q.SetPositional(n, value)
		} else {
			err = q.SetParameter(name, value)
		}
		if err != nil {
			return nil, err
		}
	}
	return card, nil
}

func lookupSlot(q *engine.Query, label string) *queryir.ParamSlot {
	for _, slot := range q.Parameters() {
		if slot.Label() == label {
			return slot
		}
	}
	return nil
}

// paramValue turns one command-line value into what the slot binds.
func paramValue(s *engine.Session, slot *queryir.ParamSlot, raw string) (any, error) {
	e := slot.Type.Entity
	if e == nil {
		return raw, nil
	}
	id := e.ID()
	if id.Kind() != metamodel.KindBasic {
		return nil, &LoadError{Code: ErrCodeParameter, Message: fmt.Sprintf("%s: %s has a composite identifier", slot.Label(), e.Name())}
	}
	v, err := id.Type().Convert(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeParameter, Message: fmt.Sprintf("%s: invalid %s identifier", slot.Label(), e.Name()), Err: err}
	}
	return s.GetReference(e.Name(), v)
}

// renderResult formats one result row, one string per item.
func renderResult(r any) []string {
	if tuple, ok := r.([]any); ok {
		out := make([]string, len(tuple))
		for i, v := range tuple {
			out[i] = renderValue(v)
		}
		return out
	}
	return []string{renderValue(r)}
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case *persist.LazyReference:
		return val.Key().String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
