package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/navsql/internal/store"
)

// CacheOptions holds flags shared by the cache subcommands.
type CacheOptions struct {
	*RootOptions
	Database string // overrides cache.path from the config
}

// CacheEntry is one cached translation as reported by cache list.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	Tree        string    `json:"tree"`
	SQL         string    `json:"sql"`
	Secondary   int       `json:"secondary"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent translation cache",
		Long: `Inspect or clear the SQLite database that holds compiled queries.

The database is taken from --db, or from cache.path in the config file.

Exit codes:
  0 - Success
  2 - Command error (no database configured, database unreadable)

Examples:
  navsql cache list --db ./navsql.db
  navsql cache list --config navsql.yaml --format json
  navsql cache purge --db ./navsql.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the cache database")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List cached translations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "purge",
		Short:         "Delete every cached translation",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachePurge(opts, cmd)
		},
	})

	return cmd
}

// openCache opens the database named by --db or the config.
func (o *CacheOptions) openCache(out *OutputFormatter) (*store.Store, error) {
	path := o.Database
	if path == "" {
		path = o.Config().Cache.Path
	}
	if path == "" {
		_ = out.Error(CodeCacheAccess, "no cache database configured", nil)
		return nil, NewExitError(ExitCommandError, "no cache database configured (use --db or cache.path)")
	}

	out.VerboseLog("opening cache %s", path)
	st, err := store.Open(path)
	if err != nil {
		_ = out.Error(CodeCacheAccess, "failed to open cache", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	return st, nil
}

func runCacheList(opts *CacheOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.Formatter(cmd)

	st, err := opts.openCache(out)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.List(ctx)
	if err != nil {
		_ = out.Error(CodeCacheAccess, "failed to list cache", err.Error())
		return WrapExitError(ExitCommandError, "failed to list cache", err)
	}

	list := make([]CacheEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, CacheEntry{
			Fingerprint: e.Fingerprint,
			CreatedAt:   e.CreatedAt.UTC(),
			Tree:        e.Tree,
			SQL:         e.SQL,
			Secondary:   len(e.Secondary),
		})
	}

	if opts.Format == "json" {
		return out.Success(list)
	}

	for _, e := range list {
		fmt.Fprintf(out.Writer, "%s  %s\n  %s\n", e.Fingerprint, e.CreatedAt.Format(time.RFC3339), e.Tree)
	}
	fmt.Fprintf(out.Writer, "%d cached translation(s)\n", len(list))
	return nil
}

func runCachePurge(opts *CacheOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.Formatter(cmd)

	st, err := opts.openCache(out)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Purge(ctx)
	if err != nil {
		_ = out.Error(CodeCacheAccess, "failed to purge cache", err.Error())
		return WrapExitError(ExitCommandError, "failed to purge cache", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]int64{"purged": n})
	}
	fmt.Fprintf(out.Writer, "purged %d cached translation(s)\n", n)
	return nil
}
