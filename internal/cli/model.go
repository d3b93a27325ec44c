package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/oql/internal/metamodel"
)

// ModelOptions holds flags for the model command.
type ModelOptions struct {
	*RootOptions
}

// EntitySummary describes one mapped entity.
type EntitySummary struct {
	Name        string             `json:"name"`
	Table       string             `json:"table"`
	Super       string             `json:"super,omitempty"`
	Abstract    bool               `json:"abstract,omitempty"`
	Inheritance string             `json:"inheritance,omitempty"`
	UniqueKeys  []string           `json:"unique_keys,omitempty"`
	Attributes  []AttributeSummary `json:"attributes"`
}

// AttributeSummary describes one attribute of an entity.
type AttributeSummary struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Type       string `json:"type,omitempty"`
	Target     string `json:"target,omitempty"`
	Collection string `json:"collection,omitempty"`
	Fetch      string `json:"fetch,omitempty"`
	MappedBy   string `json:"mapped_by,omitempty"`
	Columns    string `json:"columns,omitempty"`
}

// NewModelCommand creates the model command.
func NewModelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ModelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "model",
		Short:         "Describe the entity model",
		Long:          `Load the CUE model and list every entity with its table and attributes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModel(opts, cmd)
		},
	}

	return cmd
}

func runModel(opts *ModelOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := loadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}

	entities := DescribeModel(env.meta)
	formatter.VerboseLog("loaded %d entities from %s", len(entities), env.settings.Model)

	return formatter.Success(entities, func(w io.Writer) {
		for _, e := range entities {
			fmt.Fprintf(w, "%s (%s)", e.Name, e.Table)
			if e.Super != "" {
				fmt.Fprintf(w, " extends %s", e.Super)
			}
			if e.Inheritance != "" {
				fmt.Fprintf(w, " [%s]", e.Inheritance)
			}
			fmt.Fprintln(w)
			for _, a := range e.Attributes {
				switch {
				case a.Collection != "":
					fmt.Fprintf(w, "  %-16s %s %s of %s (%s)\n", a.Name, a.Kind, a.Collection, a.Target, a.Fetch)
				case a.Target != "":
					fmt.Fprintf(w, "  %-16s %s %s (%s)\n", a.Name, a.Kind, a.Target, a.Fetch)
				case a.Type != "":
					fmt.Fprintf(w, "  %-16s %s\n", a.Name, a.Type)
				default:
					fmt.Fprintf(w, "  %-16s %s\n", a.Name, a.Kind)
				}
			}
		}
	})
}

// DescribeModel summarizes every entity of meta in name order.
func DescribeModel(meta *metamodel.Metamodel) []EntitySummary {
	out := make([]EntitySummary, 0, len(meta.Names()))
	for _, name := range meta.Names() {
		e := meta.Entity(name)
		s := EntitySummary{
			Name:       e.Name(),
			Table:      e.Table(),
			Abstract:   e.Abstract(),
			UniqueKeys: e.UniqueKeyNames(),
		}
		if sup := e.Super(); sup != nil {
			s.Super = sup.Name()
		}
		if e.IsPolymorphic() {
			s.Inheritance = e.Strategy().String()
		}
		for _, a := range e.Attributes() {
			s.Attributes = append(s.Attributes, describeAttribute(a))
		}
		out = append(out, s)
	}
	return out
}

func describeAttribute(a *metamodel.Attribute) AttributeSummary {
	s := AttributeSummary{
		Name:     a.Name(),
		Kind:     a.Kind().String(),
		MappedBy: a.MappedBy(),
	}
	switch a.Kind() {
	case metamodel.KindBasic:
		s.Type = a.Type().String()
		s.Columns = a.Column()
	case metamodel.KindEmbedded:
		s.Type = a.Embeddable().TypeName()
		s.Columns = strings.Join(a.Columns(), ",")
	default:
		s.Target = a.Target().Name()
		s.Fetch = a.Fetch().String()
		s.Columns = strings.Join(a.JoinColumns(), ",")
		if a.Kind() == metamodel.KindToMany {
			s.Collection = a.Collection().String()
		}
	}
	return s
}
