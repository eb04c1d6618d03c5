// Package record models the activity records fetched from exchange APIs.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Record is one decoded activity record. Numbers are kept as json.Number so
// the canonical form sees the exchange's exact values.
type Record map[string]any

// Batch is the ordered set of records fetched in one cycle.
type Batch []Record

// ID returns the record's integer id.
func (r Record) ID() (int64, error) {
	v, ok := r["id"]
	if !ok {
		return 0, fmt.Errorf("record: missing id")
	}
	switch id := v.(type) {
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, fmt.Errorf("record: id %q is not an integer", id.String())
		}
		return n, nil
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case float64:
		if id != float64(int64(id)) {
			return 0, fmt.Errorf("record: id %v is not an integer", id)
		}
		return int64(id), nil
	default:
		return 0, fmt.Errorf("record: id has type %T", v)
	}
}

// String returns the field as a trimmed string. Numbers are rendered in
// their literal form; any other type reports ok=false.
func (r Record) String(field string) (string, bool) {
	switch v := r[field].(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// Time parses the field as a timestamp.
func (r Record) Time(field string) (time.Time, error) {
	switch v := r[field].(type) {
	case string:
		return ParseTime(v)
	case json.Number:
		return ParseTime(v.String())
	case nil:
		return time.Time{}, fmt.Errorf("record: missing %s", field)
	default:
		return time.Time{}, fmt.Errorf("record: %s has type %T", field, v)
	}
}

// MaxID returns the highest id in the batch. ok is false for an empty batch.
func (b Batch) MaxID() (max int64, ok bool) {
	for _, rec := range b {
		id, err := rec.ID()
		if err != nil {
			continue
		}
		if !ok || id > max {
			max, ok = id, true
		}
	}
	return max, ok
}

// Decode parses a fetch response body into a batch sorted by ascending id.
// Anything other than an array of objects carrying integer ids is a
// MalformedResponseError.
func Decode(body []byte) (Batch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &MalformedResponseError{Reason: "response is not a sequence", Body: snippet(trimmed)}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid JSON", Body: snippet(trimmed), Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedResponseError{Reason: "trailing data after sequence", Body: snippet(trimmed)}
	}

	batch := make(Batch, 0, len(raw))
	ids := make(map[int64]struct{}, len(raw))
	for i, elem := range raw {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("element %d is not an object", i)}
		}
		rec := Record(obj)
		id, err := rec.ID()
		if err != nil {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("element %d", i), Err: err}
		}
		if _, dup := ids[id]; dup {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("duplicate id %d", id)}
		}
		ids[id] = struct{}{}
		batch = append(batch, rec)
	}

	slices.SortStableFunc(batch, func(a, b Record) int {
		ia, _ := a.ID()
		ib, _ := b.ID()
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	})
	return batch, nil
}

// DecodeOne parses a single record object, used by the offline tooling.
func DecodeOne(body []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("record: not an object")
	}
	rec := Record(obj)
	if _, err := rec.ID(); err != nil {
		return nil, err
	}
	return rec, nil
}

func snippet(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// ParseTime accepts RFC 3339 (with or without fractional seconds or a zone),
// "2006-01-02 15:04:05", and epoch seconds or milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("record: empty time")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 13 digits and up is milliseconds for any date past 2001.
		if len(strings.TrimPrefix(s, "-")) >= 13 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("record: unsupported time %q", s)
}
