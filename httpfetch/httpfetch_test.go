package httpfetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bringpkg/bring/cachepath"
)

func TestGetCachesSuccessfulDownload(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	roots := cachepath.New(t.TempDir())
	f := New(roots, WithClient(srv.Client()), WithWait(time.Millisecond))

	path1, err := f.Get(srv.URL)
	require.NoError(t, err)
	path2, err := f.Get(srv.URL)
	require.NoError(t, err)

	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, hits, "second Get should hit the cache, not the server")

	data, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestGetDoesNotRetryOn404(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	roots := cachepath.New(t.TempDir())
	f := New(roots, WithClient(srv.Client()), WithRetries(3), WithWait(time.Millisecond))

	_, err := f.Get(srv.URL)
	assert.Error(t, err)
	assert.Equal(t, 1, hits)
}

func TestGetRetriesOnServerError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	roots := cachepath.New(t.TempDir())
	f := New(roots, WithClient(srv.Client()), WithRetries(3), WithWait(time.Millisecond))

	path, err := f.Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}
