package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querysql"
	"github.com/roach88/navsql/internal/querytext"
	"github.com/roach88/navsql/internal/schema"
	"github.com/roach88/navsql/internal/store"
	"github.com/roach88/navsql/internal/translate"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	Schema string // schema directory or file (required)
	SQL    bool   // also print the generated SQL
	Strict bool   // fail on unresolved navigations
}

// RewriteResult is the JSON payload of the rewrite command.
type RewriteResult struct {
	Fingerprint string               `json:"fingerprint"`
	Tree        string               `json:"tree"`
	SQL         string               `json:"sql,omitempty"`
	Params      []any                `json:"params,omitempty"`
	Secondary   []querysql.Secondary `json:"secondary,omitempty"`
	Passes      int                  `json:"passes"`
	Converged   bool                 `json:"converged"`
	Cached      bool                 `json:"cached"`
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite --schema <dir> <query>",
		Short: "Rewrite a query and print the relational tree",
		Long: `Parse a query against a schema, rewrite its navigations into joins,
subqueries and nested results, and print the rewritten tree.

With --sql the SQLite statement, its bound parameters and any secondary
statements for nested results are printed as well. When the config enables
a cache path, compiled queries are stored there and reused across runs.

Exit codes:
  0 - Query rewritten
  1 - Query could not be translated
  2 - Command error (schema not found, query does not parse, bad config)

Examples:
  navsql rewrite --schema ./schema 'Orders.Where(o => o.Customer.City == "Berlin")'
  navsql rewrite --schema ./schema --sql 'Customers.Select(c => new { c.CustomerID, c.Orders })'
  navsql rewrite --schema ./schema --format json --config navsql.yaml 'Orders.Count()'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema directory or CUE file (required)")
	_ = cmd.MarkFlagRequired("schema")
	cmd.Flags().BoolVar(&opts.SQL, "sql", false, "print the generated SQL")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a navigation stays unresolved")

	return cmd
}

func runRewrite(opts *RewriteOptions, query string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.Formatter(cmd)
	cfg := opts.Config()

	if _, err := os.Stat(opts.Schema); os.IsNotExist(err) {
		_ = out.Error(CodeSchema, fmt.Sprintf("schema not found: %s", opts.Schema), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("schema not found: %s", opts.Schema))
	}
	m, err := schema.LoadDir(opts.Schema)
	if err != nil {
		_ = out.Error(CodeSchema, "failed to load schema", err.Error())
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	e, err := querytext.Parse(query, m)
	if err != nil {
		_ = out.Error(CodeQuery, "failed to parse query", err.Error())
		return WrapExitError(ExitCommandError, "failed to parse query", err)
	}
	out.VerboseLog("parsed: %s", expr.Format(e))

	topts := []translate.Option{
		translate.WithLogger(opts.Logger(out.GetErrWriter())),
		translate.WithMaxPasses(cfg.MaxPasses),
		translate.WithStrictNavigation(cfg.StrictNavigation || opts.Strict),
	}
	if !cfg.Cache.Enabled {
		topts = append(topts, translate.WithoutCache())
	} else {
		topts = append(topts, translate.WithCacheSize(cfg.Cache.Size))
		if cfg.Cache.Path != "" {
			st, err := store.Open(cfg.Cache.Path)
			if err != nil {
				_ = out.Error(CodeCacheAccess, "failed to open cache", err.Error())
				return WrapExitError(ExitCommandError, "failed to open cache", err)
			}
			defer st.Close()
			topts = append(topts, translate.WithStore(st))
		}
	}

	tr, err := translate.New(m.Descriptors, topts...).Translate(ctx, e)
	if err != nil {
		details := err.Error()
		var uerr *translate.UnresolvedError
		if errors.As(err, &uerr) {
			var paths []string
			for _, u := range uerr.Unresolved {
				paths = append(paths, u.Entity+"."+u.Member)
			}
			details = fmt.Sprint(paths)
		}
		_ = out.Error(CodeTranslate, "query could not be translated", details)
		return WrapExitError(ExitFailure, "query could not be translated", err)
	}

	if opts.Format == "json" {
		res := RewriteResult{
			Fingerprint: tr.Fingerprint,
			Tree:        tr.Tree,
			Passes:      tr.Passes,
			Converged:   tr.Converged,
			Cached:      tr.Cached,
		}
		if opts.SQL {
			res.SQL = tr.SQL
			res.Params = tr.Params
			res.Secondary = tr.Secondary
		}
		return out.encode(CLIResponse{Status: "ok", Data: res, TranslationID: tr.ID})
	}

	fmt.Fprintln(out.Writer, tr.Tree)
	if opts.SQL {
		fmt.Fprintln(out.Writer)
		writeStatement(out.Writer, "", tr.SQL, tr.Params)
		writeSecondaries(out.Writer, "", tr.Secondary)
	}
	out.VerboseLog("translation %s: fingerprint %s, %d pass(es), cached %t", tr.ID, tr.Fingerprint, tr.Passes, tr.Cached)
	return nil
}

func writeStatement(w io.Writer, indent, sql string, params []any) {
	fmt.Fprintf(w, "%s%s\n", indent, sql)
	for i, p := range params {
		fmt.Fprintf(w, "%s  ?%d = %s\n", indent, i+1, expr.FormatValue(p, nil))
	}
}

func writeSecondaries(w io.Writer, indent string, secs []querysql.Secondary) {
	for _, s := range secs {
		fmt.Fprintf(w, "\n%s-- %s, once per row\n", indent, s.Field)
		writeStatement(w, indent, s.SQL, s.Params)
		for _, c := range s.Correlation {
			fmt.Fprintf(w, "%s  :%s = %s\n", indent, c.Param, c.Column)
		}
		writeSecondaries(w, indent+"  ", s.Nested)
	}
}
