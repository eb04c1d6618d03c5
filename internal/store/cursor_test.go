package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorKey(t *testing.T) {
	assert.Equal(t, "isunone.opid", CursorKey("isunone"))
}

func TestReadCursor(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		stored  *string
		want    int64
		wantErr bool
	}{
		{name: "absent", want: 1},
		{name: "stored", stored: ptr("42"), want: 42},
		{name: "whitespace", stored: ptr(" 7\n"), want: 7},
		{name: "garbage", stored: ptr("abc"), want: 1, wantErr: true},
		{name: "zero", stored: ptr("0"), want: 1, wantErr: true},
		{name: "negative", stored: ptr("-5"), want: 1, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			if tt.stored != nil {
				require.NoError(t, m.Set(ctx, "src.opid", *tt.stored))
			}

			got, err := ReadCursor(ctx, m, "src")
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				var ve *CursorValueError
				assert.ErrorAs(t, err, &ve)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadCursor_StorageFailureDefaults(t *testing.T) {
	m := NewMemory()
	m.FailGet = errors.New("disk on fire")

	got, err := ReadCursor(context.Background(), m, "src")
	assert.Equal(t, DefaultCursor, got)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestWriteCursor(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, WriteCursor(ctx, s, "src", 10))
	v, ok, err := s.Get(ctx, "src.opid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10", v)

	got, err := ReadCursor(ctx, s, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	assert.Error(t, WriteCursor(ctx, s, "src", 0))
}

func TestWriteCursor_StorageFailure(t *testing.T) {
	m := NewMemory()
	m.FailSet = errors.New("read-only")

	err := WriteCursor(context.Background(), m, "src", 3)
	require.Error(t, err)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "set", se.Op)
	assert.Equal(t, "src.opid", se.Key)
}

func TestMemory_List(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "z.opid", "3"))
	require.NoError(t, m.Set(ctx, "a.opid", "1"))

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "a.opid", Value: "1"}, {Key: "z.opid", Value: "3"}}, entries)
}

func ptr(s string) *string { return &s }
