package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/store"
)

type fakeBot struct {
	name     string
	initErr  error
	startErr error
	calls    []string
	deps     Deps
}

func (b *fakeBot) Name() string { return b.name }

func (b *fakeBot) Init(ctx context.Context, deps Deps) error {
	b.calls = append(b.calls, "init")
	b.deps = deps
	return b.initErr
}

func (b *fakeBot) Start(ctx context.Context) error {
	b.calls = append(b.calls, "start")
	return b.startErr
}

func (b *fakeBot) Ready(ctx context.Context) error {
	if len(b.calls) < 2 {
		return ErrNotReady
	}
	return nil
}

type fakeLedger struct{}

func (fakeLedger) Certify(ctx context.Context, metadata string) error { return nil }
func (fakeLedger) Query(ctx context.Context, metadata string) ([]ledger.Submission, error) {
	return nil, nil
}

func testDeps() Deps {
	return Deps{Store: store.NewMemory(), Ledger: fakeLedger{}}
}

func TestRegistry_LookupIsCaseInsensitive(t *testing.T) {
	b := &fakeBot{name: "iSunOne"}
	r, err := NewRegistry(b)
	require.NoError(t, err)

	for _, name := range []string{"iSunOne", "isunone", "ISUNONE"} {
		got, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Same(t, b, got)
	}

	_, ok := r.Lookup("isun")
	assert.False(t, ok, "lookup is an exact match")
	_, ok = r.Lookup("isunone2")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(&fakeBot{name: "a"}, &fakeBot{name: "A"})
	assert.Error(t, err)

	_, err = NewRegistry(&fakeBot{name: ""})
	assert.Error(t, err)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r, err := NewRegistry(&fakeBot{name: "zeta"}, &fakeBot{name: "alpha"}, &fakeBot{name: "mid"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())

	names := r.Names()
	names[0] = "mutated"
	assert.Equal(t, "alpha", r.Names()[0])

	var order []string
	for _, b := range r.Bots() {
		order = append(order, b.Name())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, order)
}

func TestRegistry_InitAll(t *testing.T) {
	a, b := &fakeBot{name: "a"}, &fakeBot{name: "b"}
	r, err := NewRegistry(b, a)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, r.Ready(ctx))

	require.NoError(t, r.InitAll(ctx, testDeps()))
	assert.Equal(t, []string{"init", "start"}, a.calls)
	assert.Equal(t, []string{"init", "start"}, b.calls)
	assert.NotNil(t, a.deps.Logger, "defaults are filled")
	assert.NotNil(t, a.deps.Metrics)
	assert.NoError(t, r.Ready(ctx))
}

func TestRegistry_InitAllStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeBot{name: "a", startErr: boom}
	b := &fakeBot{name: "b"}
	r, err := NewRegistry(a, b)
	require.NoError(t, err)

	err = r.InitAll(context.Background(), testDeps())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.calls)
}

func TestRegistry_InitAllValidatesDeps(t *testing.T) {
	r, err := NewRegistry(&fakeBot{name: "a"})
	require.NoError(t, err)

	assert.Error(t, r.InitAll(context.Background(), Deps{Ledger: fakeLedger{}}))
	assert.Error(t, r.InitAll(context.Background(), Deps{Store: store.NewMemory()}))
}

func TestRegistry_Context(t *testing.T) {
	r, err := NewRegistry(&fakeBot{name: "a"})
	require.NoError(t, err)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	got, ok := FromContext(WithRegistry(context.Background(), r))
	require.True(t, ok)
	assert.Same(t, r, got)
}
