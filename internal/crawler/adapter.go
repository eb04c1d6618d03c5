package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/certcrawl/internal/canonical"
	"github.com/roach88/certcrawl/internal/fingerprint"
	"github.com/roach88/certcrawl/internal/httpx"
	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/metrics"
	"github.com/roach88/certcrawl/internal/record"
	"github.com/roach88/certcrawl/internal/store"
)

// CursorPlaceholder is replaced by the decimal cursor in an endpoint template.
const CursorPlaceholder = "{cursor}"

// DefaultEndpoint is the account_version listing, filtered by starting id.
const DefaultEndpoint = "/account_version.json?account_version_id=" + CursorPlaceholder

// DefaultPacing is the delay between consecutive certifications.
const DefaultPacing = time.Second

// State is a position in the crawl cycle state machine.
type State string

const (
	StateIdle          State = "idle"
	StateFetchCursor   State = "fetch_cursor"
	StateFetchRecords  State = "fetch_records"
	StateCertifyBatch  State = "certify_batch"
	StatePersistCursor State = "persist_cursor"
	StateAborted       State = "aborted"
)

// Source is the static description of one exchange feed.
type Source struct {
	Tag      string
	BaseURL  string
	Endpoint string        // template containing CursorPlaceholder; DefaultEndpoint if empty
	Period   time.Duration // zero means the scheduler default
}

// CycleResult summarizes one RunCycle call.
type CycleResult struct {
	Source     string
	CycleID    string
	Cursor     int64 // cursor read at the start of the cycle
	NextCursor int64 // cursor in the store after the cycle
	Fetched    int
	Certified  int
	State      State // StateIdle on success, StateAborted otherwise
}

// Adapter runs the crawl-and-certify cycle for one source.
//
// Cycles of the same Adapter never overlap: RunCycle holds a per-adapter
// lock for the cycle's whole duration.
type Adapter struct {
	src       Source
	formatter *fingerprint.Formatter
	http      httpx.Doer
	userAgent string
	pacing    time.Duration
	ids       IDGenerator
	sleep     func(ctx context.Context, d time.Duration) error

	// Set by Init.
	store   store.CursorStore
	ledger  ledger.Ledger
	logger  *slog.Logger
	metrics metrics.Recorder

	cycleMu sync.Mutex

	stateMu sync.Mutex
	inited  bool
	started bool
	last    *CycleResult
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the client used to fetch records.
func WithHTTPClient(d httpx.Doer) Option {
	return func(a *Adapter) { a.http = d }
}

// WithUserAgent sets the User-Agent of fetch requests.
func WithUserAgent(ua string) Option {
	return func(a *Adapter) { a.userAgent = ua }
}

// WithPacing sets the delay between certifications. Negative means none.
func WithPacing(d time.Duration) Option {
	return func(a *Adapter) { a.pacing = d }
}

// WithIDGenerator replaces the cycle id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *Adapter) { a.ids = g }
}

// New validates src and returns an uninitialized Adapter. The formatter
// must have a strategy for src.Tag.
func New(src Source, f *fingerprint.Formatter, opts ...Option) (*Adapter, error) {
	if src.Tag == "" {
		return nil, errors.New("crawler: source tag is required")
	}
	if f == nil {
		return nil, errors.New("crawler: formatter is required")
	}
	if _, ok := f.Strategy(src.Tag); !ok {
		return nil, fmt.Errorf("crawler: %w: %q", fingerprint.ErrUnknownSource, src.Tag)
	}
	if src.Endpoint == "" {
		src.Endpoint = DefaultEndpoint
	}
	if !strings.Contains(src.Endpoint, CursorPlaceholder) {
		return nil, fmt.Errorf("crawler: %s: endpoint %q lacks %s", src.Tag, src.Endpoint, CursorPlaceholder)
	}
	if _, err := fetchURL(src, store.DefaultCursor); err != nil {
		return nil, fmt.Errorf("crawler: %s: %w", src.Tag, err)
	}

	a := &Adapter{
		src:       src,
		formatter: f,
		pacing:    DefaultPacing,
		ids:       UUIDv7Generator{},
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.http == nil {
		a.http = httpx.NewClient(0)
	}
	return a, nil
}

// Source returns the adapter's static configuration.
func (a *Adapter) Source() Source { return a.src }

// Period reports the adapter's own scheduling period, zero for the default.
func (a *Adapter) Period() time.Duration { return a.src.Period }

// Run runs one cycle and returns only its error. Results are already logged
// and recorded by RunCycle.
func (a *Adapter) Run(ctx context.Context) error {
	_, err := a.RunCycle(ctx)
	return err
}

// LastResult returns the result of the most recent completed cycle.
func (a *Adapter) LastResult() (CycleResult, bool) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.last == nil {
		return CycleResult{}, false
	}
	return *a.last, true
}

func (a *Adapter) setLast(res CycleResult) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.last = &res
}

// RunCycle executes one pass of the crawl state machine:
// FetchCursor, FetchRecords, CertifyBatch, PersistCursor.
//
// The cursor is written only after every fetched record has been certified.
// Any failure aborts the remaining batch and leaves the cursor untouched, so
// the next cycle re-fetches from the same point.
func (a *Adapter) RunCycle(ctx context.Context) (CycleResult, error) {
	if err := a.Ready(ctx); err != nil {
		return CycleResult{Source: a.src.Tag, State: StateAborted}, err
	}

	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	res := CycleResult{Source: a.src.Tag, CycleID: a.ids.Generate(), State: StateFetchCursor}
	log := a.logger.With("source", a.src.Tag, "cycle_id", res.CycleID)
	start := time.Now()

	// FetchCursor. A read failure is not fatal: fall back to the default
	// and reprocess, which is safe under at-least-once delivery.
	cursor, err := store.ReadCursor(ctx, a.store, a.src.Tag)
	readFailed := store.IsStorageError(err)
	if err != nil {
		log.Warn("cursor unreadable, using default", "cursor", cursor, "error", err)
	}
	res.Cursor, res.NextCursor = cursor, cursor
	log = log.With("cursor", cursor)
	log.Debug("cycle started")

	abort := func(code CycleErrorCode, recordID int64, err error) (CycleResult, error) {
		if ctx.Err() != nil {
			code = ErrCodeCancelled
		}
		ce := &CycleError{Code: code, Source: a.src.Tag, Stage: res.State, RecordID: recordID, Err: err}
		res.State = StateAborted
		res.NextCursor = cursor
		a.setLast(res)
		a.metrics.CycleFinished(a.src.Tag, metrics.OutcomeAborted, time.Since(start))
		log.Warn("cycle aborted",
			"stage", string(ce.Stage),
			"code", string(ce.Code),
			"record_id", recordID,
			"fetched", res.Fetched,
			"certified", res.Certified,
			"error", err,
		)
		return res, ce
	}

	// FetchRecords
	res.State = StateFetchRecords
	batch, err := a.fetch(ctx, cursor)
	if err != nil {
		if record.IsMalformed(err) {
			return abort(ErrCodeMalformedResponse, 0, err)
		}
		return abort(ErrCodeTransientNetwork, 0, err)
	}
	res.Fetched = len(batch)

	next := cursor
	if maxID, ok := batch.MaxID(); ok && maxID+1 > next {
		next = maxID + 1
	}

	// CertifyBatch
	res.State = StateCertifyBatch
	for i, rec := range batch {
		id, _ := rec.ID() // validated by record.Decode
		if err := a.certify(ctx, rec); err != nil {
			a.metrics.Certification(a.src.Tag, metrics.StatusError)
			return abort(certifyCode(err), id, err)
		}
		res.Certified++
		a.metrics.Certification(a.src.Tag, metrics.StatusOK)
		log.Debug("record certified", "record_id", id)

		if i < len(batch)-1 {
			if err := a.sleep(ctx, a.pacing); err != nil {
				return abort(ErrCodeCancelled, id, err)
			}
		}
	}

	// PersistCursor. After a failed read the stored value is unknown, so it
	// is read again and never overwritten with a lower one.
	floor, persist := cursor, true
	if readFailed {
		stored, err := store.ReadCursor(ctx, a.store, a.src.Tag)
		if store.IsStorageError(err) {
			log.Warn("cursor still unreadable, not persisting", "next_cursor", next, "error", err)
			persist = false
		} else if stored > floor {
			floor = stored
			res.NextCursor = stored
		}
	}
	if persist && next > floor {
		res.State = StatePersistCursor
		if err := store.WriteCursor(ctx, a.store, a.src.Tag, next); err != nil {
			return abort(ErrCodeStorage, 0, err)
		}
		res.NextCursor = next
		a.metrics.Cursor(a.src.Tag, next)
	}

	res.State = StateIdle
	a.setLast(res)
	a.metrics.CycleFinished(a.src.Tag, metrics.OutcomeOK, time.Since(start))
	log.Info("cycle complete",
		"fetched", res.Fetched,
		"certified", res.Certified,
		"next_cursor", res.NextCursor,
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (a *Adapter) fetch(ctx context.Context, cursor int64) (record.Batch, error) {
	u, err := fetchURL(a.src, cursor)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	body, err := httpx.Do(ctx, a.http, req, a.userAgent)
	if err != nil {
		return nil, err
	}
	return record.Decode(body)
}

func (a *Adapter) certify(ctx context.Context, rec record.Record) error {
	md, err := a.formatter.Metadata(a.src.Tag, rec)
	if err != nil {
		return err
	}
	return a.ledger.Certify(ctx, md)
}

func certifyCode(err error) CycleErrorCode {
	var fe *fingerprint.FieldError
	switch {
	case canonical.IsCircular(err):
		return ErrCodeCircularStructure
	case errors.As(err, &fe):
		return ErrCodeInvalidRecord
	case ledger.IsRejected(err):
		return ErrCodeLedgerRejected
	case ledger.IsTransient(err):
		return ErrCodeTransientNetwork
	default:
		// unsupported value types inside the record
		return ErrCodeInvalidRecord
	}
}

// Lookup computes rec's metadata and asks the ledger for submissions that
// carry it. It does not touch the cursor.
func (a *Adapter) Lookup(ctx context.Context, rec record.Record) (string, []ledger.Submission, error) {
	if err := a.Ready(ctx); err != nil {
		return "", nil, err
	}
	md, err := a.formatter.Metadata(a.src.Tag, rec)
	if err != nil {
		return "", nil, err
	}
	subs, err := a.ledger.Query(ctx, md)
	if err != nil {
		return md, nil, err
	}
	return md, subs, nil
}

func fetchURL(src Source, cursor int64) (string, error) {
	path := strings.ReplaceAll(src.Endpoint, CursorPlaceholder, url.QueryEscape(strconv.FormatInt(cursor, 10)))
	raw := strings.TrimRight(src.BaseURL, "/") + path
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("fetch URL %q must be absolute", raw)
	}
	return u.String(), nil
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
