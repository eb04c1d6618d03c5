package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/certcrawl/internal/bot"
	"github.com/roach88/certcrawl/internal/config"
	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Config string
	Source string
}

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	Metadata    string              `json:"metadata"`
	Found       bool                `json:"found"`
	Submissions []ledger.Submission `json:"submissions"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <record.json>",
		Short: "Look up a record's certification on the ledger",
		Long: `Compute a record's metadata and ask the ledger for submissions carrying it.

Exits with code 1 when the ledger has no matching submission. The cursor
store is not touched.

Example:
  certcrawl query --config certcrawl.yaml --source isunone record.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the YAML configuration file (required)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source tag the record came from (required)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runQuery(opts *QueryOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	fp, err := cfg.Formatter()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid source strategies", err)
	}
	lc, err := ledger.New(cfg.LedgerClientConfig())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid ledger configuration", err)
	}

	// Paused sources are registered too; a lookup never crawls.
	adapters, err := buildAdapters(cfg, cfg.Sources, fp, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to build sources", err)
	}
	registry, err := registerAdapters(adapters)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to register sources", err)
	}
	// Lookups never read or write cursors, so a scratch store suffices.
	deps := bot.Deps{Store: store.NewMemory(), Ledger: lc, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := registry.InitAll(ctx, deps); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start sources", err)
	}
	ctx = bot.WithRegistry(ctx, registry)

	source, err := lookupSource(ctx, opts.Source)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}

	rec, err := readRecord(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRecord, "failed to read record", err)
	}

	md, subs, err := source.Lookup(ctx, rec)
	if err != nil {
		if md == "" {
			return formatter.Fail(ExitFailure, ErrCodeRecord, "cannot fingerprint record", err)
		}
		return formatter.Fail(ExitFailure, ErrCodeLedger, "ledger query failed", err)
	}

	result := QueryResult{Metadata: md, Found: len(subs) > 0, Submissions: subs}
	if err := formatter.Result(result, func(w io.Writer) {
		fmt.Fprintln(w, md)
		if !result.Found {
			fmt.Fprintln(w, "✗ no matching submission")
			return
		}
		fmt.Fprintf(w, "✓ %d matching submission(s)\n", len(subs))
		for _, s := range subs {
			line, _ := json.Marshal(s)
			fmt.Fprintf(w, "  %s\n", line)
		}
	}); err != nil {
		return err
	}
	if !result.Found {
		return NewExitError(ExitFailure, "record not found on ledger")
	}
	return nil
}
