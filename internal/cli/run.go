package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/certcrawl/internal/bot"
	"github.com/roach88/certcrawl/internal/config"
	"github.com/roach88/certcrawl/internal/crawler"
	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/metrics"
	"github.com/roach88/certcrawl/internal/scheduler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StoreFlags
	Once        bool
	MetricsAddr string

	// IDGenerator allows overriding the cycle id generator (for testing).
	// If nil, defaults to crawler.UUIDv7Generator.
	IDGenerator crawler.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl every enabled source and certify new records",
		Long: `Start the crawl scheduler.

Every enabled source runs its first cycle immediately, then again one period
after each cycle finishes. Sources run concurrently; a source never overlaps
with itself. Aborted cycles leave the cursor untouched and are retried at the
next period.

Example:
  certcrawl run --config certcrawl.yaml
  certcrawl run --config certcrawl.yaml --db /var/lib/certcrawl.db --metrics-addr :9090
  certcrawl run --config certcrawl.yaml --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawler(opts, cmd)
		},
	}

	opts.StoreFlags.register(cmd)
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run one cycle per source and exit")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	return cmd
}

func runCrawler(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	fp, err := cfg.Formatter()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid source strategies", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, &opts.StoreFlags, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cursor store", err)
	}
	defer closeStore()

	lc, err := ledger.New(cfg.LedgerClientConfig())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ledger configuration", err)
	}

	ids := opts.IDGenerator
	if ids == nil {
		ids = crawler.UUIDv7Generator{}
	}
	adapters, err := buildAdapters(cfg, cfg.EnabledSources(), fp, ids)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build sources", err)
	}

	runners := make([]scheduler.Runner, len(adapters))
	for i, a := range adapters {
		runners[i] = a
	}
	registry, err := registerAdapters(adapters)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register sources", err)
	}

	m := metrics.New()
	deps := bot.Deps{Store: st, Ledger: lc, Logger: logger, Metrics: m}
	if err := registry.InitAll(ctx, deps); err != nil {
		return WrapExitError(ExitCommandError, "failed to start sources", err)
	}
	ctx = bot.WithRegistry(ctx, registry)

	if opts.MetricsAddr != "" {
		srv := metrics.NewServer(opts.MetricsAddr, m)
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Error("metrics server failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", "addr", opts.MetricsAddr)
	}

	sched := scheduler.New(cfg.Scheduler.Period.Std(), runners...).WithLogger(logger).WithRecorder(m)

	if opts.Once {
		runErr := sched.RunOnce(ctx)
		formatter := newFormatter(opts.RootOptions, cmd)
		if err := outputRunResults(formatter, adapters); err != nil {
			return err
		}
		if runErr != nil {
			return WrapExitError(ExitFailure, "one or more cycles aborted", runErr)
		}
		return nil
	}

	logger.Info("crawler starting", "sources", registry.Names(), "period", cfg.Scheduler.Period.Std())
	if err := sched.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start scheduler", err)
	}
	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	logger.Info("crawler stopped gracefully")
	return nil
}

// RunResult is one source's line in the --once summary.
type RunResult struct {
	Source     string `json:"source"`
	CycleID    string `json:"cycle_id"`
	State      string `json:"state"`
	Cursor     int64  `json:"cursor"`
	NextCursor int64  `json:"next_cursor"`
	Fetched    int    `json:"fetched"`
	Certified  int    `json:"certified"`
}

func outputRunResults(formatter *OutputFormatter, adapters []*crawler.Adapter) error {
	results := make([]RunResult, 0, len(adapters))
	for _, a := range adapters {
		res, ok := a.LastResult()
		if !ok {
			results = append(results, RunResult{Source: a.Name(), State: string(crawler.StateAborted)})
			continue
		}
		results = append(results, RunResult{
			Source:     res.Source,
			CycleID:    res.CycleID,
			State:      string(res.State),
			Cursor:     res.Cursor,
			NextCursor: res.NextCursor,
			Fetched:    res.Fetched,
			Certified:  res.Certified,
		})
	}

	return formatter.Result(results, func(w io.Writer) {
		for _, r := range results {
			mark := "✓"
			if r.State != string(crawler.StateIdle) {
				mark = "✗"
			}
			fmt.Fprintf(w, "%s %s: fetched %d, certified %d, cursor %d -> %d\n",
				mark, r.Source, r.Fetched, r.Certified, r.Cursor, r.NextCursor)
		}
	})
}
