package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querysql"
	"github.com/roach88/navsql/internal/schema"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	DDL bool // print CREATE TABLE statements instead of the model
}

// EntityInfo describes one entity of a loaded schema.
type EntityInfo struct {
	Name        string           `json:"name"`
	Table       string           `json:"table"`
	Key         []string         `json:"key,omitempty"`
	Fields      []FieldInfo      `json:"fields"`
	Navigations []NavigationInfo `json:"navigations,omitempty"`
}

// FieldInfo describes one scalar field.
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NavigationInfo describes one navigation member.
type NavigationInfo struct {
	Member   string `json:"member"`
	Target   string `json:"target"`
	Many     bool   `json:"many"`
	Optional bool   `json:"optional"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema <dir>",
		Short: "Load a CUE schema and print its entities",
		Long: `Load a CUE schema (a directory holding one package, or a single file),
validate its keys and navigations, and print the resulting model.

Exit codes:
  0 - Schema is valid
  2 - Schema could not be loaded

Examples:
  navsql schema ./schema
  navsql schema ./schema/northwind.cue --format json
  navsql schema ./schema --ddl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DDL, "ddl", false, "print SQLite CREATE TABLE statements")

	return cmd
}

func runSchema(opts *SchemaOptions, path string, cmd *cobra.Command) error {
	out := opts.Formatter(cmd)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = out.Error(CodeSchema, fmt.Sprintf("schema not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("schema not found: %s", path))
	}

	out.VerboseLog("loading schema from %s", path)
	m, err := schema.LoadDir(path)
	if err != nil {
		_ = out.Error(CodeSchema, "failed to load schema", err.Error())
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	if opts.DDL {
		stmts := querysql.CreateTables(m)
		if opts.Format == "json" {
			return out.Success(map[string]any{"ddl": stmts})
		}
		for _, s := range stmts {
			fmt.Fprintln(out.Writer, s+";")
		}
		return nil
	}

	entities := describeModel(m)
	if opts.Format == "json" {
		return out.Success(entities)
	}
	writeModel(out.Writer, entities)
	return nil
}

// describeModel lists the entities of m in name order.
func describeModel(m *schema.Model) []EntityInfo {
	entities := make([]EntityInfo, 0, len(m.Entities))
	for _, name := range m.Names() {
		t := m.Entities[name]
		info := EntityInfo{Name: name, Table: t.Table, Fields: []FieldInfo{}}

		if pk, ok := m.Descriptors.PrimaryKey(t); ok {
			for _, part := range pk.Parts(expr.NewParam("x", t)) {
				if mem, ok := part.(*expr.Member); ok {
					info.Key = append(info.Key, mem.Name)
				}
			}
		}
		for _, f := range t.Fields {
			if f.Type.IsScalar() {
				info.Fields = append(info.Fields, FieldInfo{Name: f.Name, Type: f.Type.String()})
			}
		}
		for _, n := range m.Descriptors.NavigationsOf(t) {
			info.Navigations = append(info.Navigations, NavigationInfo{
				Member:   n.Member,
				Target:   n.Target.Name,
				Many:     n.Many,
				Optional: n.Optional(),
			})
		}
		entities = append(entities, info)
	}
	return entities
}

func writeModel(w io.Writer, entities []EntityInfo) {
	for i, e := range entities {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", e.Name, e.Table)
		if len(e.Key) > 0 {
			fmt.Fprintf(w, "  key: %s\n", strings.Join(e.Key, ", "))
		}
		for _, f := range e.Fields {
			fmt.Fprintf(w, "  %s %s\n", f.Name, f.Type)
		}
		for _, n := range e.Navigations {
			card := "one"
			if n.Many {
				card = "many"
			} else if n.Optional {
				card = "optional"
			}
			fmt.Fprintf(w, "  %s -> %s (%s)\n", n.Member, n.Target, card)
		}
	}
	fmt.Fprintf(w, "\n%d entities\n", len(entities))
}
