package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varietylab/varietyd"
)

type staticSource struct {
	name  string
	cands []varietyd.Candidate
	err   error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Discover(context.Context, string) ([]varietyd.Candidate, error) {
	return s.cands, s.err
}

func TestEngineMergesSources(t *testing.T) {
	e := NewEngine(slog.Default(),
		staticSource{name: "a", cands: []varietyd.Candidate{{PackageName: "pkg-a"}}},
		staticSource{name: "b", cands: []varietyd.Candidate{{PackageName: "pkg-b"}}},
	)
	got := e.Discover(context.Background(), "memory")
	require.Len(t, got, 2)
	assert.Equal(t, "pkg-a", got[0].PackageName)
	assert.Equal(t, "pkg-b", got[1].PackageName)
}

func TestEngineSkipsFailingSource(t *testing.T) {
	e := NewEngine(slog.Default(),
		staticSource{name: "broken", err: errors.New("registry down")},
		staticSource{name: "ok", cands: []varietyd.Candidate{{PackageName: "pkg-ok"}}},
	)
	got := e.Discover(context.Background(), "memory")
	require.Len(t, got, 1)
	assert.Equal(t, "pkg-ok", got[0].PackageName)
}

func TestEngineEmptyIsNotError(t *testing.T) {
	e := NewEngine(slog.Default(), staticSource{name: "empty"})
	got := e.Discover(context.Background(), "memory")
	assert.Empty(t, got)
}

func TestCuratedFromFile(t *testing.T) {
	src, err := LoadCatalog("testdata/catalog.jsonc")
	require.NoError(t, err)

	got, err := src.Discover(context.Background(), "memory")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pkg-memory-server", got[0].PackageName)
	assert.Equal(t, "1.2.0", got[0].Version)
	assert.Equal(t, varietyd.OriginCurated, got[0].Origin)
	assert.Equal(t, []string{"memory"}, got[0].Capabilities)

	got, err = src.Discover(context.Background(), "vector-search")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"vector-search", "embeddings"}, got[0].Capabilities)

	got, err = src.Discover(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCuratedRejectsBadNames(t *testing.T) {
	_, err := ParseCatalog([]byte(`{"memory": [{"package": "BAD NAME"}]}`))
	require.Error(t, err)

	_, err = ParseCatalog([]byte(`{"Bad Capability": [{"package": "pkg-ok"}]}`))
	require.Error(t, err)

	_, err = ParseCatalog([]byte(`{"memory": [{"package": "pkg-ok", "version": ">=1.0"}]}`))
	require.Error(t, err)
}

func TestRegistryDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/-/v1/search", r.URL.Path)
		assert.Equal(t, "memory", r.URL.Query().Get("text"))
		w.Write([]byte(`{"objects": [
			{"package": {"name": "pkg-memory", "version": "2.0.1", "keywords": ["memory"]}, "score": {"final": 0.9}},
			{"package": {"name": "../evil", "version": "1.0.0"}, "score": {"final": 1.0}},
			{"package": {"name": "pkg-ranged", "version": "^1.0.0"}, "score": {"final": 1.0}}
		]}`))
	}))
	defer srv.Close()

	src := NewRegistrySource(srv.URL)
	got, err := src.Discover(context.Background(), "memory")
	require.NoError(t, err)

	// The traversal-shaped name and the range version never make it out.
	require.Len(t, got, 1)
	assert.Equal(t, "pkg-memory", got[0].PackageName)
	assert.Equal(t, "2.0.1", got[0].Version)
	assert.Equal(t, varietyd.OriginRegistry, got[0].Origin)
	assert.InDelta(t, 90.0, got[0].Score, 0.001)
}

func TestRegistryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewRegistrySource(srv.URL)
	_, err := src.Discover(context.Background(), "memory")
	require.Error(t, err)
}

func TestRegistryBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewRegistrySource(srv.URL)
	for range 3 {
		_, err := src.Discover(context.Background(), "memory")
		require.Error(t, err)
	}
	_, err := src.Discover(context.Background(), "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

type staticSuggester struct {
	cands []varietyd.Candidate
	err   error
}

func (s staticSuggester) Suggest(context.Context, string) ([]varietyd.Candidate, error) {
	return s.cands, s.err
}

func TestResearchValidatesSuggestions(t *testing.T) {
	src := NewResearchSource(staticSuggester{cands: []varietyd.Candidate{
		{PackageName: "pkg-good"},
		{PackageName: "rm -rf /"},
	}}, nil)

	got, err := src.Discover(context.Background(), "memory")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pkg-good", got[0].PackageName)
	assert.Equal(t, varietyd.OriginResearch, got[0].Origin)
}

func TestResearchPropagatesError(t *testing.T) {
	src := NewResearchSource(staticSuggester{err: errors.New("model unavailable")}, slog.Default())
	_, err := src.Discover(context.Background(), "memory")
	require.Error(t, err)
}
