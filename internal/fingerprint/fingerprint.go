// Package fingerprint turns a record and its source tag into the metadata
// string submitted to the notarization ledger.
//
// Format: "<source>|<reason>|<unix millis>|<sha256 hex>". The digest is
// computed over the canonical serialization of the whole record. The
// delimiter and field order are read back by the ledger's query side and
// must not change.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sha256 "github.com/minio/sha256-simd"

	"github.com/roach88/certcrawl/internal/canonical"
	"github.com/roach88/certcrawl/internal/record"
)

const (
	// Delimiter separates metadata fields.
	Delimiter = "|"

	// FormatVersion identifies the metadata layout. Bump only together with
	// the ledger's query side.
	FormatVersion = 1

	// DefaultTimeField is used when a strategy leaves TimeField empty.
	DefaultTimeField = "created_at"
)

// ErrUnknownSource is returned for a tag with no registered strategy.
var ErrUnknownSource = errors.New("fingerprint: unknown source")

// Strategy describes how one source's records are fingerprinted.
type Strategy struct {
	// ReasonField names the record field carrying the reason code.
	ReasonField string

	// TimeField names the creation timestamp field. Defaults to created_at.
	TimeField string

	// Canonical configures serialization ahead of hashing.
	Canonical canonical.Options
}

// Fingerprint is the parsed form of a metadata string.
type Fingerprint struct {
	Source    string
	Reason    string
	Timestamp time.Time
	Digest    string
}

// String renders the metadata string.
func (fp Fingerprint) String() string {
	return strings.Join([]string{
		fp.Source,
		fp.Reason,
		strconv.FormatInt(fp.Timestamp.UnixMilli(), 10),
		fp.Digest,
	}, Delimiter)
}

// Parse splits a metadata string back into its fields.
func Parse(metadata string) (Fingerprint, error) {
	parts := strings.Split(metadata, Delimiter)
	if len(parts) != 4 {
		return Fingerprint{}, fmt.Errorf("fingerprint: want 4 fields, got %d", len(parts))
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: timestamp %q: %w", parts[2], err)
	}
	if len(parts[3]) != sha256.Size*2 {
		return Fingerprint{}, fmt.Errorf("fingerprint: digest must be %d hex characters", sha256.Size*2)
	}
	if _, err := hex.DecodeString(parts[3]); err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: digest: %w", err)
	}
	return Fingerprint{
		Source:    parts[0],
		Reason:    parts[1],
		Timestamp: time.UnixMilli(ms).UTC(),
		Digest:    parts[3],
	}, nil
}

// Formatter maps source tags to strategies. It is immutable after
// construction and safe for concurrent use.
type Formatter struct {
	strategies map[string]Strategy
}

// NewFormatter validates the strategy table. Every tag must be non-empty,
// free of the delimiter, and name a reason field.
func NewFormatter(strategies map[string]Strategy) (*Formatter, error) {
	table := make(map[string]Strategy, len(strategies))
	for tag, st := range strategies {
		if tag == "" {
			return nil, errors.New("fingerprint: empty source tag")
		}
		if strings.Contains(tag, Delimiter) {
			return nil, fmt.Errorf("fingerprint: source tag %q contains %q", tag, Delimiter)
		}
		if st.ReasonField == "" {
			return nil, fmt.Errorf("fingerprint: source %q has no reason field", tag)
		}
		if st.TimeField == "" {
			st.TimeField = DefaultTimeField
		}
		table[tag] = st
	}
	return &Formatter{strategies: table}, nil
}

// Tags returns the registered source tags in sorted order.
func (f *Formatter) Tags() []string {
	tags := make([]string, 0, len(f.strategies))
	for tag := range f.strategies {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Strategy returns the strategy registered for tag.
func (f *Formatter) Strategy(tag string) (Strategy, bool) {
	st, ok := f.strategies[tag]
	return st, ok
}

// Digest returns the hex SHA-256 of the record's canonical serialization.
func (f *Formatter) Digest(tag string, rec record.Record) (string, error) {
	st, ok := f.strategies[tag]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, tag)
	}
	return digest(st, rec)
}

// Metadata computes the metadata string for rec. Pure: no I/O, and equal
// records always yield the identical string.
func (f *Formatter) Metadata(tag string, rec record.Record) (string, error) {
	fp, err := f.Fingerprint(tag, rec)
	if err != nil {
		return "", err
	}
	return fp.String(), nil
}

// Fingerprint computes the structured fingerprint for rec.
func (f *Formatter) Fingerprint(tag string, rec record.Record) (Fingerprint, error) {
	st, ok := f.strategies[tag]
	if !ok {
		return Fingerprint{}, fmt.Errorf("%w: %q", ErrUnknownSource, tag)
	}

	reason, ok := rec.String(st.ReasonField)
	if !ok {
		return Fingerprint{}, &FieldError{Source: tag, Field: st.ReasonField, Reason: "missing or not a string"}
	}
	if strings.Contains(reason, Delimiter) {
		return Fingerprint{}, &FieldError{Source: tag, Field: st.ReasonField, Reason: "contains " + Delimiter}
	}

	created, err := rec.Time(st.TimeField)
	if err != nil {
		return Fingerprint{}, &FieldError{Source: tag, Field: st.TimeField, Reason: err.Error()}
	}

	sum, err := digest(st, rec)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{Source: tag, Reason: reason, Timestamp: created, Digest: sum}, nil
}

func digest(st Strategy, rec record.Record) (string, error) {
	data, err := st.Canonical.Marshal(map[string]any(rec))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MustMetadata is like Metadata but panics on error.
// Use only in tests or when inputs are known to be valid.
func (f *Formatter) MustMetadata(tag string, rec record.Record) string {
	md, err := f.Metadata(tag, rec)
	if err != nil {
		panic(err)
	}
	return md
}

// FieldError reports a record field the strategy needs but cannot use.
type FieldError struct {
	Source string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("fingerprint: %s: field %q: %s", e.Source, e.Field, e.Reason)
}
