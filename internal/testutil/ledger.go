package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Submission is one certification received by LedgerServer.
type Submission struct {
	VendorID     string
	AssetAddress string
	APIKey       string
	TokenType    string
	Value        string
	Metadata     string
}

// LedgerServer is a fake notarization ledger.
type LedgerServer struct {
	*httptest.Server

	mu          sync.Mutex
	calls       int
	failures    map[int]int
	submissions []Submission
}

// NewLedgerServer starts a fake ledger. It is closed by t.Cleanup.
func NewLedgerServer(t *testing.T) *LedgerServer {
	t.Helper()
	s := &LedgerServer{failures: make(map[int]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FailCall makes the n-th certification (1-based, counted across the
// server's lifetime) answer with status instead of succeeding.
func (s *LedgerServer) FailCall(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[n] = status
}

// Calls returns the number of certification requests received.
func (s *LedgerServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Submissions returns the accepted certifications in arrival order.
func (s *LedgerServer) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// Metadata returns just the metadata strings of accepted certifications.
func (s *LedgerServer) Metadata() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.submissions))
	for i, sub := range s.submissions {
		out[i] = sub.Metadata
	}
	return out
}

func (s *LedgerServer) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/bolt/remittance/"):
		s.certify(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/bolt/txhashs":
		s.query(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *LedgerServer) certify(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if status, ok := s.failures[s.calls]; ok {
		http.Error(w, "rejected", status)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/bolt/remittance/"), "/")
	if len(parts) != 2 {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	var body struct {
		TokenType string `json:"tokenType"`
		Value     string `json:"value"`
		Metadata  string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.submissions = append(s.submissions, Submission{
		VendorID:     parts[0],
		AssetAddress: parts[1],
		APIKey:       r.URL.Query().Get("apiKey"),
		TokenType:    body.TokenType,
		Value:        body.Value,
		Metadata:     body.Metadata,
	})
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"success":true,"txhash":"0x%064x"}`, len(s.submissions))
}

func (s *LedgerServer) query(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := r.URL.Query().Get("metadata")
	out := []map[string]any{}
	for i, sub := range s.submissions {
		if sub.Metadata == want {
			out = append(out, map[string]any{
				"metadata": sub.Metadata,
				"txhash":   fmt.Sprintf("0x%064x", i+1),
			})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
