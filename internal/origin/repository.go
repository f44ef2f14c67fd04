package origin

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

var errMissingRepository = errors.New("origin: repository transport is required")

// Commit is the newest commit of the tracked branch that changed any of the
// requested paths, and the blob hashes of those paths in its tree.
type Commit struct {
	SHA           string
	CommitterDate time.Time
	AuthorDate    time.Time
	// Blobs maps a requested path to its blob hash. Paths that are absent
	// from the commit or could not be resolved are missing.
	Blobs map[string]string
}

// Repository is a transport to the version-controlled origin.
type Repository interface {
	LatestCommit(ctx context.Context, paths []string) (Commit, error)
	Blob(ctx context.Context, hash string) ([]byte, error)
}

// RepositoryMeta is the repository's view of the datasets it hosts.
type RepositoryMeta struct {
	Timestamp    definitions.Timestamp
	CommitSHA    string
	MainHash     string
	BoundaryHash string
}

// HashFor returns the blob hash of kind, or false when the repository does
// not expose one for this fetch.
func (m RepositoryMeta) HashFor(kind definitions.Kind) (string, bool) {
	var hash string
	switch kind {
	case definitions.KindMain:
		hash = m.MainHash
	case definitions.KindBoundary:
		hash = m.BoundaryHash
	}
	return hash, hash != ""
}

// RepositoryConfig wires a RepositoryMetaFetcher.
type RepositoryConfig struct {
	Repository   Repository
	MainPath     string
	BoundaryPath string
	Clock        func() time.Time
	Logger       *zap.Logger
	Metrics      Recorder
}

// RepositoryMetaFetcher resolves repository meta once per session.
type RepositoryMetaFetcher struct {
	repository   Repository
	mainPath     string
	boundaryPath string
	clock        func() time.Time
	logger       *zap.Logger
	metrics      Recorder
	memo         Memo[RepositoryMeta]
}

// NewRepositoryMetaFetcher validates cfg and returns a fetcher.
func NewRepositoryMetaFetcher(cfg RepositoryConfig) (*RepositoryMetaFetcher, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepositoryMetaFetcher{
		repository:   cfg.Repository,
		mainPath:     strings.TrimPrefix(cfg.MainPath, "/"),
		boundaryPath: strings.TrimPrefix(cfg.BoundaryPath, "/"),
		clock:        clock,
		logger:       logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Meta returns the memoized repository meta for the current session.
func (f *RepositoryMetaFetcher) Meta(ctx context.Context) (RepositoryMeta, error) {
	return f.memo.Do(ctx, f.fetch)
}

// Blob downloads a blob by hash.
func (f *RepositoryMetaFetcher) Blob(ctx context.Context, hash string) ([]byte, error) {
	content, err := f.repository.Blob(ctx, hash)
	record(f.metrics, NameRepository, "blob", err)
	if err != nil {
		return nil, newError(NameRepository, "blob", err)
	}
	return content, nil
}

// Reset ends the session so the next Meta call fetches again.
func (f *RepositoryMetaFetcher) Reset() {
	f.memo.Reset()
}

func (f *RepositoryMetaFetcher) fetch(ctx context.Context) (RepositoryMeta, error) {
	commit, err := f.repository.LatestCommit(ctx, []string{f.mainPath, f.boundaryPath})
	record(f.metrics, NameRepository, "meta", err)
	if err != nil {
		f.logger.Warn("repository meta fetch failed", zap.String("origin", NameRepository), zap.Error(err))
		return RepositoryMeta{}, newError(NameRepository, "meta", err)
	}

	meta := RepositoryMeta{
		Timestamp:    f.commitTimestamp(commit),
		CommitSHA:    commit.SHA,
		MainHash:     commit.Blobs[f.mainPath],
		BoundaryHash: commit.Blobs[f.boundaryPath],
	}
	f.logger.Debug("repository meta fetched",
		zap.String("origin", NameRepository),
		zap.String("commit", meta.CommitSHA),
		zap.Int64("timestamp", meta.Timestamp.Int64()),
	)
	return meta, nil
}

func (f *RepositoryMetaFetcher) commitTimestamp(commit Commit) definitions.Timestamp {
	switch {
	case !commit.CommitterDate.IsZero():
		return definitions.TimestampOf(commit.CommitterDate)
	case !commit.AuthorDate.IsZero():
		return definitions.TimestampOf(commit.AuthorDate)
	default:
		return definitions.TimestampOf(f.clock())
	}
}
