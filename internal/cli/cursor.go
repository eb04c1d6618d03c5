package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/certcrawl/internal/config"
	"github.com/roach88/certcrawl/internal/store"
)

// CursorOptions holds flags shared by the cursor subcommands.
type CursorOptions struct {
	*RootOptions
	StoreFlags
}

// CursorEntry is one source's cursor in command output.
type CursorEntry struct {
	Source string `json:"source"`
	Cursor int64  `json:"cursor"`
	Stored string `json:"stored,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CursorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset per-source cursors",
		Long: `Inspect or reset the cursor each source resumes from.

The store is chosen by --postgres, then --db, then the store section of
--config.

Example:
  certcrawl cursor list --db certcrawl.db
  certcrawl cursor get isunone --config certcrawl.yaml
  certcrawl cursor set isunone 1200 --db certcrawl.db`,
	}
	opts.StoreFlags.registerPersistent(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:           "get <source>",
		Short:         "Print the cursor a source will resume from",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorGet(opts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "set <source> <cursor>",
		Short:         "Overwrite a source's cursor",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorSet(opts, args[0], args[1], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List every stored cursor",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorList(opts, cmd)
		},
	})

	return cmd
}

func (f *StoreFlags) registerPersistent(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.Config, "config", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&f.Database, "db", "", "path to SQLite cursor database (overrides config)")
	cmd.PersistentFlags().StringVar(&f.Postgres, "postgres", "", "Postgres DSN for the cursor store (overrides config and --db)")
}

// withCursorStore loads the config when given, opens the store and calls fn.
func withCursorStore(opts *CursorOptions, cmd *cobra.Command, fn func(st cursorStore, cfg *config.Config) error) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var cfg *config.Config
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
		}
	}

	st, closeStore, err := openStore(cmd.Context(), &opts.StoreFlags, cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open cursor store", err)
	}
	defer closeStore()
	return fn(st, cfg)
}

func runCursorGet(opts *CursorOptions, source string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	return withCursorStore(opts, cmd, func(st cursorStore, cfg *config.Config) error {
		source = canonicalTag(cfg, source)
		entry := CursorEntry{Source: source}

		raw, _, getErr := st.Get(cmd.Context(), store.CursorKey(source))
		if getErr != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read cursor", getErr)
		}
		entry.Stored = raw

		cursor, err := store.ReadCursor(cmd.Context(), st, source)
		entry.Cursor = cursor
		if err != nil {
			entry.Error = err.Error()
		}

		return formatter.Result(entry, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %d\n", entry.Source, entry.Cursor)
			if entry.Error != "" {
				fmt.Fprintf(w, "  warning: %s\n", entry.Error)
			}
		})
	})
}

func runCursorSet(opts *CursorOptions, source, value string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < store.DefaultCursor {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("cursor must be an integer >= %d, got %q", store.DefaultCursor, value), nil)
	}

	return withCursorStore(opts, cmd, func(st cursorStore, cfg *config.Config) error {
		if cfg != nil {
			if _, ok := cfg.Source(source); !ok {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("unknown source %q", source), nil)
			}
		}
		source = canonicalTag(cfg, source)

		previous, _ := store.ReadCursor(cmd.Context(), st, source)
		if err := store.WriteCursor(cmd.Context(), st, source, n); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to write cursor", err)
		}

		entry := CursorEntry{Source: source, Cursor: n}
		return formatter.Result(entry, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %d -> %d\n", source, previous, n)
		})
	})
}

func runCursorList(opts *CursorOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	return withCursorStore(opts, cmd, func(st cursorStore, cfg *config.Config) error {
		entries, err := st.List(cmd.Context())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list cursors", err)
		}

		out := make([]CursorEntry, 0, len(entries))
		for _, e := range entries {
			source, ok := strings.CutSuffix(e.Key, store.CursorSuffix)
			if !ok || source == "" {
				continue
			}
			entry := CursorEntry{Source: source, Stored: e.Value}
			n, err := strconv.ParseInt(e.Value, 10, 64)
			if err != nil || n < store.DefaultCursor {
				entry.Cursor = store.DefaultCursor
				entry.Error = "unusable stored value"
			} else {
				entry.Cursor = n
			}
			out = append(out, entry)
		}

		return formatter.Result(out, func(w io.Writer) {
			if len(out) == 0 {
				fmt.Fprintln(w, "no cursors stored")
				return
			}
			for _, e := range out {
				if e.Error != "" {
					fmt.Fprintf(w, "%s\t%d\t(%s: %q)\n", e.Source, e.Cursor, e.Error, e.Stored)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\n", e.Source, e.Cursor)
			}
		})
	})
}

// canonicalTag maps a case-insensitive tag to its configured spelling.
func canonicalTag(cfg *config.Config, tag string) string {
	if cfg == nil {
		return tag
	}
	if src, ok := cfg.Source(tag); ok {
		return src.Tag
	}
	return tag
}
