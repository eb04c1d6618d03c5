package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSortsByID(t *testing.T) {
	body := []byte(`[{"id":9,"reason":"c"},{"id":5,"reason":"a"},{"id":6,"reason":"b"}]`)

	batch, err := Decode(body)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	var ids []int64
	for _, rec := range batch {
		id, err := rec.ID()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{5, 6, 9}, ids)

	max, ok := batch.MaxID()
	assert.True(t, ok)
	assert.Equal(t, int64(9), max)
}

func TestDecodeKeepsNumbersExact(t *testing.T) {
	batch, err := Decode([]byte(`[{"id":1,"amount":0.10000000000000000001}]`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("0.10000000000000000001"), batch[0]["amount"])
}

func TestDecodeEmpty(t *testing.T) {
	batch, err := Decode([]byte(" [] \n"))
	require.NoError(t, err)
	assert.Empty(t, batch)

	_, ok := batch.MaxID()
	assert.False(t, ok)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object", `{"error":"rate limited"}`},
		{"empty", ``},
		{"html", `<html>502</html>`},
		{"truncated", `[{"id":1}`},
		{"element not object", `[1,2]`},
		{"missing id", `[{"reason":"x"}]`},
		{"fractional id", `[{"id":1.5}]`},
		{"string id", `[{"id":"1"}]`},
		{"duplicate id", `[{"id":1},{"id":1}]`},
		{"trailing data", `[] []`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "got %T: %v", err, err)
		})
	}
}

func TestRecordString(t *testing.T) {
	rec := Record{"reason": "  deposit ", "code": json.Number("7"), "blank": " ", "flag": true}

	s, ok := rec.String("reason")
	assert.True(t, ok)
	assert.Equal(t, "deposit", s)

	s, ok = rec.String("code")
	assert.True(t, ok)
	assert.Equal(t, "7", s)

	_, ok = rec.String("blank")
	assert.False(t, ok)
	_, ok = rec.String("flag")
	assert.False(t, ok)
	_, ok = rec.String("missing")
	assert.False(t, ok)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2020-01-01T00:00:00Z", want},
		{"2020-01-01T08:00:00+08:00", want},
		{"2020-01-01T00:00:00.250Z", want.Add(250 * time.Millisecond)},
		{"2020-01-01 00:00:00", want},
		{"2020-01-01T00:00:00", want},
		{"1577836800", want},
		{"1577836800000", want},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTime("yesterday")
	assert.Error(t, err)
	_, err = ParseTime("")
	assert.Error(t, err)
}

func TestRecordTime(t *testing.T) {
	rec := Record{"created_at": "2020-01-01T00:00:00Z", "epoch": json.Number("1577836800")}

	got, err := rec.Time("created_at")
	require.NoError(t, err)
	assert.Equal(t, int64(1577836800000), got.UnixMilli())

	got, err = rec.Time("epoch")
	require.NoError(t, err)
	assert.Equal(t, int64(1577836800000), got.UnixMilli())

	_, err = rec.Time("missing")
	assert.Error(t, err)
}

func TestDecodeOne(t *testing.T) {
	rec, err := DecodeOne([]byte(`{"id":3,"reason":"x"}`))
	require.NoError(t, err)
	id, _ := rec.ID()
	assert.Equal(t, int64(3), id)

	_, err = DecodeOne([]byte(`{"reason":"x"}`))
	assert.Error(t, err)
	_, err = DecodeOne([]byte(`null`))
	assert.Error(t, err)
}
