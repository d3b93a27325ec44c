package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
}

// CheckResult is the outcome for one checked query.
type CheckResult struct {
	Query   string `json:"query"`
	Line    int    `json:"line"`
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// CheckReport is the JSON payload of the check command.
type CheckReport struct {
	Queries []CheckResult `json:"queries"`
	Failed  int           `json:"failed"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <file|->",
		Short: "Check that queries bind and compile",
		Long: `Read queries from a file, separated by ";" or blank lines, and check
that each one parses, binds against the model and compiles for the target
dialect. Lines starting with "--" or "#" are comments.

Exits 1 when any query fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeReadInput, Message: "opening query file", Err: err})
		}
		defer file.Close()
		in = file
	}
	queries, err := SplitQueries(in)
	if err != nil {
		return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeReadInput, Message: "reading queries", Err: err})
	}
	if len(queries) == 0 {
		return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeReadInput, Message: "no queries found"})
	}

	env, err := loadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	f, err := env.factory(nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}

	report := CheckReport{Queries: make([]CheckResult, 0, len(queries))}
	for _, q := range queries {
		r := CheckResult{Query: q.Text, Line: q.Line}
		plan, err := f.Translate(q.Text, nil)
		if err != nil {
			r.Code = ErrorCode(err)
			r.Message = err.Error()
			report.Failed++
		} else {
			r.OK = true
			r.Kind = plan.Kind.String()
		}
		formatter.VerboseLog("line %d: ok=%t", q.Line, r.OK)
		report.Queries = append(report.Queries, r)
	}

	if err := formatter.Success(report, func(w io.Writer) {
		for _, r := range report.Queries {
			if r.OK {
				fmt.Fprintf(w, "ok    %d: %s\n", r.Line, r.Kind)
				continue
			}
			fmt.Fprintf(w, "FAIL  %d: [%s] %s\n", r.Line, r.Code, r.Message)
		}
		fmt.Fprintf(w, "%d queries, %d failed\n", len(report.Queries), report.Failed)
	}); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d queries failed", report.Failed, len(report.Queries)))
	}
	return nil
}

// QueryText is one query read from a query file.
type QueryText struct {
	Text string
	Line int // line the query starts on
}

// SplitQueries reads queries separated by ";" or blank lines, skipping
// comment lines.
func SplitQueries(r io.Reader) ([]QueryText, error) {
	var (
		out   []QueryText
		cur   []string
		start int
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(cur, "\n"))
		if text != "" {
			out = append(out, QueryText{Text: text, Line: start})
		}
		cur = cur[:0]
	}

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
			continue
		case strings.HasPrefix(trimmed, "--"), strings.HasPrefix(trimmed, "#"):
			continue
		}
		for {
			before, after, found := strings.Cut(line, ";")
			if len(cur) == 0 {
				start = n
			}
			cur = append(cur, before)
			if !found {
				break
			}
			flush()
			line = after
			if strings.TrimSpace(line) == "" {
				break
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}
