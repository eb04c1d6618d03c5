package crawler

import (
	"context"
	"fmt"

	"github.com/roach88/certcrawl/internal/bot"
	"github.com/roach88/certcrawl/internal/store"
)

var _ bot.Bot = (*Adapter)(nil)

// Name implements bot.Bot. The source tag doubles as the bot name.
func (a *Adapter) Name() string { return a.src.Tag }

// Init implements bot.Bot.
func (a *Adapter) Init(ctx context.Context, deps bot.Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	deps = deps.WithDefaults()

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.store = deps.Store
	a.ledger = deps.Ledger
	a.logger = deps.Logger
	a.metrics = deps.Metrics
	a.inited = true
	return nil
}

// Start implements bot.Bot. It reads the current cursor once so that an
// unreachable store is reported at startup rather than at the first cycle.
func (a *Adapter) Start(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if !a.inited {
		return fmt.Errorf("%s: start before init: %w", a.src.Tag, bot.ErrNotReady)
	}

	cursor, err := store.ReadCursor(ctx, a.store, a.src.Tag)
	if err != nil {
		a.logger.Warn("cursor unreadable at start", "source", a.src.Tag, "cursor", cursor, "error", err)
	}
	a.metrics.Cursor(a.src.Tag, cursor)
	a.logger.Info("source started", "source", a.src.Tag, "cursor", cursor, "endpoint", a.src.BaseURL)
	a.started = true
	return nil
}

// Ready implements bot.Bot.
func (a *Adapter) Ready(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if !a.inited || !a.started {
		return fmt.Errorf("%s: %w", a.src.Tag, bot.ErrNotReady)
	}
	return nil
}
