package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient(0).Timeout)
	assert.Equal(t, 3*time.Second, NewClient(3*time.Second).Timeout)
}

func TestDo_Success(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	body, err := Do(context.Background(), srv.Client(), req, "")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "application/json", gotAccept)
}

func TestDo_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 1000), http.StatusBadGateway)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/p?apiKey=secret", nil)
	require.NoError(t, err)

	_, err = Do(context.Background(), srv.Client(), req, "ua")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.NotContains(t, se.Error(), "secret")
	assert.LessOrEqual(t, len(se.Body), 259)
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, url+"/p?apiKey=s3cretKEY&x=1", nil)
	require.NoError(t, err)

	_, err = Do(context.Background(), NewClient(time.Second), req, "")
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.NotContains(t, err.Error(), "s3cretKEY")
	assert.Contains(t, err.Error(), "apiKey=REDACTED")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "http://h/p?apiKey=REDACTED&x=1", Redact("http://h/p?apiKey=k&x=1"))
	assert.Equal(t, "http://h/p?x=1", Redact("http://h/p?x=1"))
}
