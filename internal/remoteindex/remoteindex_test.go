package remoteindex

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacmgr/pac/internal/pacerr"
)

func TestFetchDecodesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/formula/fish.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(PackageMetadata{
			Name:          "fish",
			StableVersion: "4.1.2",
			Dependencies:  []string{"pcre2", "gettext"},
			Files: map[string]BottleFile{
				"arm64_sonoma": {URL: "https://example.test/fish.tar.gz", SHA256: "abc"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	meta, err := c.Fetch(t.Context(), "fish")
	require.NoError(t, err)
	assert.Equal(t, "fish", meta.Name)
	assert.Equal(t, []string{"pcre2", "gettext"}, meta.Dependencies)
	assert.Equal(t, "abc", meta.Files["arm64_sonoma"].SHA256)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Fetch(t.Context(), "missing")
	require.Error(t, err)
	kind, ok := pacerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pacerr.NotFound, kind)
}

func TestFetchRemoteStatusNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Fetch(t.Context(), "forbidden")
	require.Error(t, err)
	kind, ok := pacerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pacerr.RemoteStatus, kind)
	assert.Equal(t, 1, calls)
}

func TestBottleTokenDecodesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ghcrTokenResponse{Token: "tok-123"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ghcrRoot = srv.URL
	tok, err := c.BottleToken(t.Context(), "homebrew/core", "fish")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)
}
