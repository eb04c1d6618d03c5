package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only when CERTCRAWL_TEST_POSTGRES_DSN is set.
func TestPostgres_GetSet(t *testing.T) {
	dsn := os.Getenv("CERTCRAWL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CERTCRAWL_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer p.Close()

	key := "test-" + time.Now().Format("150405.000000") + ".opid"
	_, ok, err := p.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Set(ctx, key, "5"))
	require.NoError(t, p.Set(ctx, key, "6"))

	v, ok, err := p.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "6", v)

	entries, err := p.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, entries, Entry{Key: key, Value: "6"})
}

func TestOpenPostgres_BadDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "::not a dsn::")
	assert.Error(t, err)
}
