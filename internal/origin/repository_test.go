package origin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/origin"
)

type fakeRepository struct {
	mu          sync.Mutex
	commit      origin.Commit
	commitErr   error
	blobs       map[string][]byte
	commitCalls int
	paths       []string
}

func (r *fakeRepository) LatestCommit(_ context.Context, paths []string) (origin.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitCalls++
	r.paths = append([]string(nil), paths...)
	return r.commit, r.commitErr
}

func (r *fakeRepository) Blob(_ context.Context, hash string) ([]byte, error) {
	content, ok := r.blobs[hash]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return content, nil
}

type recordedFetch struct {
	origin    string
	operation string
	failed    bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	fetches []recordedFetch
}

func (r *fakeRecorder) OriginFetch(originName, operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches = append(r.fetches, recordedFetch{origin: originName, operation: operation, failed: err != nil})
}

func TestRepositoryMetaFetcher_TimestampPriority(t *testing.T) {
	t.Parallel()

	committed := time.Unix(1_000, 0)
	authored := time.Unix(900, 0)
	clockTime := time.Unix(800, 0)

	tests := []struct {
		name     string
		commit   origin.Commit
		expected definitions.Timestamp
	}{
		{name: "committer date wins", commit: origin.Commit{SHA: "a", CommitterDate: committed, AuthorDate: authored}, expected: 1_000},
		{name: "author date when committer missing", commit: origin.Commit{SHA: "b", AuthorDate: authored}, expected: 900},
		{name: "clock when both missing", commit: origin.Commit{SHA: "c"}, expected: 800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fetcher, err := origin.NewRepositoryMetaFetcher(origin.RepositoryConfig{
				Repository:   &fakeRepository{commit: tt.commit},
				MainPath:     "VATSpy.dat",
				BoundaryPath: "Boundaries.geojson",
				Clock:        func() time.Time { return clockTime },
			})
			require.NoError(t, err)

			meta, err := fetcher.Meta(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, meta.Timestamp)
			assert.Equal(t, tt.commit.SHA, meta.CommitSHA)
		})
	}
}

func TestRepositoryMetaFetcher_ResolvesHashesAndMemoizes(t *testing.T) {
	t.Parallel()

	repository := &fakeRepository{
		commit: origin.Commit{
			SHA:           "abc",
			CommitterDate: time.Unix(1_000, 0),
			Blobs:         map[string]string{"data/VATSpy.dat": "main-hash"},
		},
		blobs: map[string][]byte{"main-hash": []byte("payload")},
	}
	recorder := &fakeRecorder{}
	fetcher, err := origin.NewRepositoryMetaFetcher(origin.RepositoryConfig{
		Repository:   repository,
		MainPath:     "/data/VATSpy.dat",
		BoundaryPath: "data/Boundaries.geojson",
		Metrics:      recorder,
	})
	require.NoError(t, err)

	for index := 0; index < 3; index++ {
		meta, metaErr := fetcher.Meta(context.Background())
		require.NoError(t, metaErr)

		mainHash, ok := meta.HashFor(definitions.KindMain)
		assert.True(t, ok)
		assert.Equal(t, "main-hash", mainHash)
		_, ok = meta.HashFor(definitions.KindBoundary)
		assert.False(t, ok, "boundary is absent from the commit")
		_, ok = meta.HashFor(definitions.KindApproach)
		assert.False(t, ok, "repository never hosts approach geometry")
	}
	assert.Equal(t, 1, repository.commitCalls)
	assert.Equal(t, []string{"data/VATSpy.dat", "data/Boundaries.geojson"}, repository.paths)

	content, err := fetcher.Blob(context.Background(), "main-hash")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)

	fetcher.Reset()
	_, err = fetcher.Meta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repository.commitCalls)
	assert.Len(t, recorder.fetches, 3)
}

func TestRepositoryMetaFetcher_WrapsFailures(t *testing.T) {
	t.Parallel()

	fetcher, err := origin.NewRepositoryMetaFetcher(origin.RepositoryConfig{
		Repository: &fakeRepository{commitErr: errors.New("connection refused")},
	})
	require.NoError(t, err)

	_, err = fetcher.Meta(context.Background())
	require.ErrorIs(t, err, definitions.ErrOriginUnavailable)
	var originErr *origin.Error
	require.ErrorAs(t, err, &originErr)
	assert.Equal(t, origin.NameRepository, originErr.Origin)
	assert.Equal(t, "meta", originErr.Op)

	_, err = fetcher.Blob(context.Background(), "missing")
	require.ErrorIs(t, err, definitions.ErrOriginUnavailable)
}

func TestNewRepositoryMetaFetcher_RequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := origin.NewRepositoryMetaFetcher(origin.RepositoryConfig{})
	require.Error(t, err)
}
