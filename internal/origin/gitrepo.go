package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

var (
	errIncompleteGitConfig = errors.New("origin: git url and branch are required")
	errNoClone             = errors.New("origin: no clone available, fetch meta first")
	errBlobTooLarge        = errors.New("origin: blob too large")
)

// GitConfig configures the go-git transport.
type GitConfig struct {
	URL    string
	Branch string
	Token  string
	Logger *zap.Logger
}

// GitRepository reads the repository through an in-memory clone of one branch.
// Each LatestCommit clones afresh; Blob reads from the most recent clone.
type GitRepository struct {
	url    string
	branch string
	token  string
	logger *zap.Logger

	maxBlobSize int64

	mu    sync.Mutex
	clone *git.Repository
}

// NewGitRepository validates cfg and returns the transport.
func NewGitRepository(cfg GitConfig) (*GitRepository, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.Branch) == "" {
		return nil, errIncompleteGitConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitRepository{
		url:         cfg.URL,
		branch:      cfg.Branch,
		token:       cfg.Token,
		logger:      logger,
		maxBlobSize: MaxResponseSize,
	}, nil
}

// LatestCommit clones the branch and resolves the newest commit that changed
// any of paths, with the blob hashes of paths in that commit's tree.
func (r *GitRepository) LatestCommit(ctx context.Context, paths []string) (Commit, error) {
	cloneOptions := &git.CloneOptions{
		URL:           r.url,
		ReferenceName: plumbing.NewBranchReferenceName(r.branch),
		SingleBranch:  true,
		Tags:          git.NoTags,
	}
	if r.token != "" {
		cloneOptions.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: r.token}
	}

	repository, err := git.CloneContext(ctx, memory.NewStorage(), nil, cloneOptions)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to clone repository: %w", err)
	}
	commit, err := r.lastChange(repository, paths)
	if err != nil {
		return Commit{}, err
	}

	r.mu.Lock()
	r.clone = repository
	r.mu.Unlock()
	return commit, nil
}

// lastChange walks history from HEAD, newest committer time first, and
// stops at the first commit that changed one of paths.
func (r *GitRepository) lastChange(repository *git.Repository, paths []string) (Commit, error) {
	head, err := repository.Head()
	if err != nil {
		return Commit{}, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	wanted := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		wanted[path] = struct{}{}
	}
	history, err := repository.Log(&git.LogOptions{
		From:  head.Hash(),
		Order: git.LogOrderCommitterTime,
		PathFilter: func(path string) bool {
			_, ok := wanted[path]
			return ok
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("failed to read history: %w", err)
	}
	defer history.Close()

	commitObject, err := history.Next()
	if errors.Is(err, io.EOF) {
		return Commit{}, malformed("no commit on %s touches %s", r.branch, strings.Join(paths, ", "))
	}
	if err != nil {
		return Commit{}, fmt.Errorf("failed to walk history: %w", err)
	}

	commit := Commit{
		SHA:           commitObject.Hash.String(),
		CommitterDate: commitObject.Committer.When,
		AuthorDate:    commitObject.Author.When,
		Blobs:         map[string]string{},
	}
	tree, err := commitObject.Tree()
	if err != nil {
		r.logger.Warn("repository tree lookup failed",
			zap.String("origin", NameRepository),
			zap.String("commit", commit.SHA),
			zap.Error(err),
		)
		return commit, nil
	}
	for _, path := range paths {
		entry, findErr := tree.FindEntry(path)
		if findErr != nil || !entry.Mode.IsFile() {
			continue
		}
		commit.Blobs[path] = entry.Hash.String()
	}
	return commit, nil
}

// Blob reads a blob from the most recent clone.
func (r *GitRepository) Blob(_ context.Context, hash string) ([]byte, error) {
	r.mu.Lock()
	repository := r.clone
	r.mu.Unlock()
	if repository == nil {
		return nil, errNoClone
	}

	blob, err := repository.BlobObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", hash, err)
	}
	if blob.Size > r.maxBlobSize {
		return nil, fmt.Errorf("%w: blob %s is %d bytes, limit %d", errBlobTooLarge, hash, blob.Size, r.maxBlobSize)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	content, err := io.ReadAll(io.LimitReader(reader, r.maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	if int64(len(content)) > r.maxBlobSize {
		return nil, fmt.Errorf("%w: blob %s exceeds %d bytes", errBlobTooLarge, hash, r.maxBlobSize)
	}
	return content, nil
}
