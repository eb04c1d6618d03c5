package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
)

// ExchangeServer is a fake exchange exposing account_version.json.
//
// It returns every stored record whose id is at least the requested
// account_version_id, ascending, unless a canned response is set.
type ExchangeServer struct {
	*httptest.Server

	mu      sync.Mutex
	records []map[string]any
	cursors []int64
	status  int
	body    string
}

// NewExchangeServer starts a fake exchange. It is closed by t.Cleanup.
func NewExchangeServer(t *testing.T, records ...map[string]any) *ExchangeServer {
	t.Helper()
	s := &ExchangeServer{records: records}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// SetRecords replaces the stored records.
func (s *ExchangeServer) SetRecords(records ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// SetResponse makes every request answer with status and body verbatim.
// A zero status restores normal behavior.
func (s *ExchangeServer) SetResponse(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// Cursors returns the account_version_id of each request received.
func (s *ExchangeServer) Cursors() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.cursors...)
}

func (s *ExchangeServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path != "/account_version.json" {
		http.NotFound(w, r)
		return
	}
	from, err := strconv.ParseInt(r.URL.Query().Get("account_version_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad account_version_id", http.StatusBadRequest)
		return
	}
	s.cursors = append(s.cursors, from)

	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.body))
		return
	}

	out := make([]map[string]any, 0, len(s.records))
	for _, rec := range s.records {
		if idOf(rec) >= from {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idOf(out[i]) < idOf(out[j]) })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func idOf(rec map[string]any) int64 {
	switch v := rec["id"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Record builds an exchange record with the fields every source needs.
func Record(id int64, reason string) map[string]any {
	return map[string]any{
		"id":         id,
		"reason":     reason,
		"created_at": "2020-01-01T00:00:00Z",
	}
}
