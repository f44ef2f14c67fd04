package origin_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/origin"
)

func newGitHubServer(t *testing.T, treeStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/vatsim/definitions/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("path") {
		case "VATSpy.dat":
			fmt.Fprint(w, `[{"sha":"c-main","commit":{"tree":{"sha":"tree-old"},`+
				`"author":{"date":"2026-09-01T10:00:00Z"},"committer":{"date":"2026-09-01T10:00:00Z"}}}]`)
		case "Boundaries.geojson":
			fmt.Fprint(w, `[{"sha":"c0ffee","commit":{"tree":{"sha":"tree1"},`+
				`"author":{"date":"2026-10-01T10:00:00Z"},"committer":{"date":"2026-10-02T10:00:00Z"}}}]`)
		default:
			t.Errorf("commits queried without a dataset path: %s", r.URL.RawQuery)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/repos/vatsim/definitions/git/trees/tree1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		if treeStatus != http.StatusOK {
			w.WriteHeader(treeStatus)
			return
		}
		fmt.Fprint(w, `{"sha":"tree1","tree":[`+
			`{"path":"VATSpy.dat","type":"blob","sha":"blob-main"},`+
			`{"path":"Boundaries.geojson","type":"blob","sha":"blob-boundary"},`+
			`{"path":"docs","type":"tree","sha":"tree-docs"}]}`)
	})
	mux.HandleFunc("/repos/vatsim/definitions/git/blobs/blob-main", func(w http.ResponseWriter, _ *http.Request) {
		encoded := base64.StdEncoding.EncodeToString([]byte("[Countries]\nGermany|ED|Radar\n"))
		fmt.Fprintf(w, `{"sha":"blob-main","encoding":"base64","content":"%s\n"}`, encoded)
	})

	server := httptest.NewServer(mux)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return server
}

func newGitHubRepository(t *testing.T, serverURL string) *origin.GitHubRepository {
	t.Helper()

	repository, err := origin.NewGitHubRepository(origin.GitHubConfig{
		APIURL: serverURL,
		Owner:  "vatsim",
		Name:   "definitions",
		Branch: "main",
		Token:  "secret-token",
		Client: origin.NewHTTPClient(5 * time.Second),
	})
	require.NoError(t, err)
	return repository
}

func TestGitHubRepository_LatestCommit(t *testing.T) {
	t.Parallel()

	server := newGitHubServer(t, http.StatusOK)
	repository := newGitHubRepository(t, server.URL)

	commit, err := repository.LatestCommit(context.Background(), []string{"VATSpy.dat", "Boundaries.geojson"})
	require.NoError(t, err)

	assert.Equal(t, "c0ffee", commit.SHA)
	assert.Equal(t, time.Date(2026, 10, 2, 10, 0, 0, 0, time.UTC), commit.CommitterDate.UTC())
	assert.Equal(t, time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC), commit.AuthorDate.UTC())
	assert.Equal(t, map[string]string{
		"VATSpy.dat":         "blob-main",
		"Boundaries.geojson": "blob-boundary",
	}, commit.Blobs)
}

func TestGitHubRepository_IgnoresCommitsOutsideDatasetFiles(t *testing.T) {
	t.Parallel()

	var (
		queriesMu sync.Mutex
		queries   []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/vatsim/definitions/commits", func(w http.ResponseWriter, r *http.Request) {
		queriesMu.Lock()
		queries = append(queries, r.URL.Query().Get("path"))
		queriesMu.Unlock()
		if r.URL.Query().Get("path") == "" {
			// Branch head: a README edit newer than any dataset change.
			fmt.Fprint(w, `[{"sha":"readme","commit":{"tree":{"sha":"tree-head"},"committer":{"date":"2026-10-10T00:00:00Z"}}}]`)
			return
		}
		fmt.Fprint(w, `[{"sha":"data","commit":{"tree":{"sha":"tree-data"},"committer":{"date":"2026-01-01T00:00:00Z"}}}]`)
	})
	mux.HandleFunc("/repos/vatsim/definitions/git/trees/tree-data", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"tree":[{"path":"VATSpy.dat","type":"blob","sha":"blob-main"},`+
			`{"path":"Boundaries.geojson","type":"blob","sha":"blob-boundary"}]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	fetcher, err := origin.NewRepositoryMetaFetcher(origin.RepositoryConfig{
		Repository:   newGitHubRepository(t, server.URL),
		MainPath:     "VATSpy.dat",
		BoundaryPath: "Boundaries.geojson",
	})
	require.NoError(t, err)

	meta, err := fetcher.Meta(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), meta.Timestamp.Int64())
	assert.Equal(t, "data", meta.CommitSHA)
	assert.Equal(t, "blob-main", meta.MainHash)
	assert.Equal(t, "blob-boundary", meta.BoundaryHash)
	assert.ElementsMatch(t, []string{"VATSpy.dat", "Boundaries.geojson"}, queries)
}

func TestGitHubRepository_TreeFailureKeepsCommit(t *testing.T) {
	t.Parallel()

	server := newGitHubServer(t, http.StatusInternalServerError)
	repository := newGitHubRepository(t, server.URL)

	commit, err := repository.LatestCommit(context.Background(), []string{"Boundaries.geojson"})
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", commit.SHA)
	assert.Empty(t, commit.Blobs)
}

func TestGitHubRepository_Blob(t *testing.T) {
	t.Parallel()

	server := newGitHubServer(t, http.StatusOK)
	repository := newGitHubRepository(t, server.URL)

	content, err := repository.Blob(context.Background(), "blob-main")
	require.NoError(t, err)
	assert.Equal(t, "[Countries]\nGermany|ED|Radar\n", string(content))

	_, err = repository.Blob(context.Background(), "unknown")
	var httpErr *origin.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestGitHubRepository_MalformedCommits(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(server.Close)

	repository := newGitHubRepository(t, server.URL)
	_, err := repository.LatestCommit(context.Background(), []string{"VATSpy.dat"})
	require.ErrorIs(t, err, origin.ErrMalformedResponse)
}

func TestNewGitHubRepository_RequiresCoordinates(t *testing.T) {
	t.Parallel()

	_, err := origin.NewGitHubRepository(origin.GitHubConfig{Owner: "vatsim"})
	require.Error(t, err)
}

func TestNewGitRepository_RequiresURLAndBranch(t *testing.T) {
	t.Parallel()

	_, err := origin.NewGitRepository(origin.GitConfig{URL: "https://example.com/repo.git"})
	require.Error(t, err)

	repository, err := origin.NewGitRepository(origin.GitConfig{URL: "https://example.com/repo.git", Branch: "main"})
	require.NoError(t, err)
	_, err = repository.Blob(context.Background(), "0000000000000000000000000000000000000000")
	require.Error(t, err, "blob lookup before any clone must fail")
}
