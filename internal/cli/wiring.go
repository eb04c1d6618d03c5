package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/certcrawl/internal/bot"
	"github.com/roach88/certcrawl/internal/config"
	"github.com/roach88/certcrawl/internal/crawler"
	"github.com/roach88/certcrawl/internal/fingerprint"
	"github.com/roach88/certcrawl/internal/httpx"
	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/record"
	"github.com/roach88/certcrawl/internal/store"
)

// StoreFlags select the cursor store. Explicit flags win over the config file.
type StoreFlags struct {
	Config   string
	Database string
	Postgres string
}

func (f *StoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Config, "config", "", "path to the YAML configuration file")
	cmd.Flags().StringVar(&f.Database, "db", "", "path to SQLite cursor database (overrides config)")
	cmd.Flags().StringVar(&f.Postgres, "postgres", "", "Postgres DSN for the cursor store (overrides config and --db)")
}

// cursorStore is what every backend offers.
type cursorStore interface {
	store.CursorStore
	store.Lister
}

// openStore opens the backend chosen by flags, falling back to cfg.
// cfg may be nil when a flag names the backend.
func openStore(ctx context.Context, flags *StoreFlags, cfg *config.Config) (cursorStore, func(), error) {
	switch {
	case flags.Postgres != "":
		return openPostgres(ctx, flags.Postgres)
	case flags.Database != "":
		return openSQLite(flags.Database)
	case cfg == nil:
		return nil, nil, errors.New("no cursor store: pass --config, --db or --postgres")
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg.Store.DSN)
	case config.DriverMemory:
		slog.Warn("using in-memory cursor store; cursors are lost on exit")
		return store.NewMemory(), func() {}, nil
	default:
		return openSQLite(cfg.Store.Path)
	}
}

func openSQLite(path string) (cursorStore, func(), error) {
	slog.Debug("opening cursor store", "driver", config.DriverSQLite, "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}, nil
}

func openPostgres(ctx context.Context, dsn string) (cursorStore, func(), error) {
	slog.Debug("opening cursor store", "driver", config.DriverPostgres)
	st, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// buildAdapters creates one adapter per entry of sources.
func buildAdapters(cfg *config.Config, sources []config.SourceConfig, f *fingerprint.Formatter, ids crawler.IDGenerator) ([]*crawler.Adapter, error) {
	client := httpx.NewClient(cfg.HTTP.Timeout.Std())

	var adapters []*crawler.Adapter
	for _, src := range sources {
		opts := []crawler.Option{
			crawler.WithHTTPClient(client),
			crawler.WithUserAgent(cfg.HTTP.UserAgent),
			crawler.WithPacing(cfg.Ledger.Pacing.Std()),
		}
		if ids != nil {
			opts = append(opts, crawler.WithIDGenerator(ids))
		}
		a, err := crawler.New(src.CrawlerSource(), f, opts...)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no enabled sources in configuration")
	}
	return adapters, nil
}

// registerAdapters builds the registry the adapters are looked up from.
func registerAdapters(adapters []*crawler.Adapter) (*bot.Registry, error) {
	bots := make([]bot.Bot, len(adapters))
	for i, a := range adapters {
		bots[i] = a
	}
	return bot.NewRegistry(bots...)
}

// recordLookup is what query needs from a registered source.
type recordLookup interface {
	Lookup(ctx context.Context, rec record.Record) (string, []ledger.Submission, error)
}

// lookupSource resolves name, case-insensitively, through the registry
// carried by ctx.
func lookupSource(ctx context.Context, name string) (recordLookup, error) {
	registry, ok := bot.FromContext(ctx)
	if !ok {
		return nil, errors.New("no source registry in context")
	}
	b, ok := registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	lk, ok := b.(recordLookup)
	if !ok {
		return nil, fmt.Errorf("source %q cannot look up records", b.Name())
	}
	return lk, nil
}
