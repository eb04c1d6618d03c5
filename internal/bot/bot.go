// Package bot defines the lifecycle every long-running component follows
// and the registry that lets components find each other by name.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/metrics"
	"github.com/roach88/certcrawl/internal/store"
)

// ErrNotReady is returned by Ready before a bot has been initialized and
// started.
var ErrNotReady = errors.New("bot: not ready")

// Deps are the shared collaborators handed to every bot at Init.
type Deps struct {
	Store   store.CursorStore
	Ledger  ledger.Ledger
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Validate reports missing required collaborators.
func (d Deps) Validate() error {
	if d.Store == nil {
		return errors.New("bot: deps: store is required")
	}
	if d.Ledger == nil {
		return errors.New("bot: deps: ledger is required")
	}
	return nil
}

// WithDefaults fills optional collaborators with no-op values.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Discard
	}
	return d
}

// Bot is a named component with a three-step lifecycle:
// Init wires dependencies, Start performs startup checks, and Ready reports
// whether the bot can do work.
type Bot interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Ready(ctx context.Context) error
}

// Registry is an immutable name-to-bot table built once at startup.
type Registry struct {
	bots  map[string]Bot // keyed by lower-cased name
	names []string
}

// NewRegistry builds a registry. Names are unique case-insensitively.
func NewRegistry(bots ...Bot) (*Registry, error) {
	r := &Registry{bots: make(map[string]Bot, len(bots))}
	for _, b := range bots {
		name := b.Name()
		if name == "" {
			return nil, errors.New("bot: empty name")
		}
		key := strings.ToLower(name)
		if _, dup := r.bots[key]; dup {
			return nil, fmt.Errorf("bot: duplicate name %q", name)
		}
		r.bots[key] = b
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup finds a bot by exact name, ignoring case.
func (r *Registry) Lookup(name string) (Bot, bool) {
	b, ok := r.bots[strings.ToLower(name)]
	return b, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Bots returns the registered bots ordered by name.
func (r *Registry) Bots() []Bot {
	out := make([]Bot, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.bots[strings.ToLower(n)])
	}
	return out
}

// InitAll runs Init then Start on every bot, in name order, stopping at the
// first failure.
func (r *Registry) InitAll(ctx context.Context, deps Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	deps = deps.WithDefaults()
	for _, b := range r.Bots() {
		if err := b.Init(ctx, deps); err != nil {
			return fmt.Errorf("init %s: %w", b.Name(), err)
		}
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", b.Name(), err)
		}
	}
	return nil
}

// Ready joins the Ready errors of every bot.
func (r *Registry) Ready(ctx context.Context) error {
	var errs []error
	for _, b := range r.Bots() {
		if err := b.Ready(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

type registryKey struct{}

// WithRegistry returns a context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// FromContext returns the registry carried by ctx, if any.
func FromContext(ctx context.Context) (*Registry, bool) {
	r, ok := ctx.Value(registryKey{}).(*Registry)
	return r, ok && r != nil
}
