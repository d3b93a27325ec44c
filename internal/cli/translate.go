package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/sqlast"
)

// TranslateOptions holds flags for the translate command.
type TranslateOptions struct {
	*RootOptions
	InLists map[string]int // in-list parameter sizes by name
}

// Translation is the result of the translate command.
type Translation struct {
	Query         string   `json:"query"`
	Dialect       string   `json:"dialect"`
	Kind          string   `json:"kind"`
	SQL           string   `json:"sql"`
	Bindings      []string `json:"bindings"`
	Columns       int      `json:"columns,omitempty"`
	DistinctRoots bool     `json:"distinct_roots,omitempty"`
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "translate <query|->",
		Short: "Translate a query to SQL",
		Long: `Bind a query against the model and print the SQL it compiles to,
with one binding description per placeholder.

In-list parameters compile to as many placeholders as they have values;
pass their sizes with --in-list ids=3. Use "-" to read the query from
standard input.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringToIntVar(&opts.InLists, "in-list", nil, "in-list parameter sizes (name=count)")

	return cmd
}

func runTranslate(opts *TranslateOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	text, err := readQuery(arg, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	env, err := loadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	f, err := env.factory(nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}

	plan, err := f.Translate(text, cardinalities(opts.InLists))
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}

	result := Translation{
		Query:    text,
		Dialect:  f.Dialect().Name,
		Kind:     plan.Kind.String(),
		SQL:      plan.SQL,
		Bindings: describeBindings(plan.Bindings),
	}
	if plan.Shape != nil {
		result.Columns = plan.Shape.Width
		result.DistinctRoots = plan.Shape.DistinctRoots
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintln(w, result.SQL)
		for i, b := range result.Bindings {
			fmt.Fprintf(w, "  %d: %s\n", i+1, b)
		}
	})
}

// describeBindings renders each placeholder's value source: a parameter
// label with its in-list element and key path, or an inline literal.
func describeBindings(bs []sqlast.Binding) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		if b.Param == "" {
			v, err := ir.ToGo(b.Literal)
			if err != nil {
				out[i] = "literal ?"
				continue
			}
			out[i] = fmt.Sprintf("literal %v", v)
			continue
		}
		var sb strings.Builder
		switch b.Param {
		case querysql.FirstResultParam:
			sb.WriteString("first result")
		case querysql.MaxResultsParam:
			sb.WriteString("max results")
		default:
			sb.WriteString(b.Param)
		}
		if b.Element >= 0 {
			sb.WriteString("[" + strconv.Itoa(b.Element) + "]")
		}
		for _, a := range b.Key {
			sb.WriteString("." + a.Name())
		}
		out[i] = sb.String()
	}
	return out
}

// cardinalities keys in-list sizes by parameter label. Bare names are
// named parameters; "?1" style labels are kept as given.
func cardinalities(sizes map[string]int) map[string]int {
	card := make(map[string]int, len(sizes))
	for name, n := range sizes {
		if !strings.HasPrefix(name, "?") && !strings.HasPrefix(name, ":") {
			name = ":" + name
		}
		card[name] = n
	}
	return card
}

// readQuery returns arg, or standard input when arg is "-".
func readQuery(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", &LoadError{Code: ErrCodeReadInput, Message: "reading query from stdin", Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}
