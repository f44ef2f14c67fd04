package origin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// DefaultGitHubAPIURL is the public GitHub REST endpoint.
const DefaultGitHubAPIURL = "https://api.github.com"

var errIncompleteGitHubConfig = errors.New("origin: github owner, name and branch are required")

// GitHubConfig configures the GitHub REST transport.
type GitHubConfig struct {
	APIURL string
	Owner  string
	Name   string
	Branch string
	Token  string
	Client *HTTPClient
	Logger *zap.Logger
}

// GitHubRepository reads commits, trees and blobs through the GitHub REST API.
type GitHubRepository struct {
	apiURL string
	owner  string
	name   string
	branch string
	token  string
	client *HTTPClient
	logger *zap.Logger
}

// NewGitHubRepository validates cfg and returns the transport.
func NewGitHubRepository(cfg GitHubConfig) (*GitHubRepository, error) {
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Name) == "" || strings.TrimSpace(cfg.Branch) == "" {
		return nil, errIncompleteGitHubConfig
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultGitHubAPIURL
	}
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubRepository{
		apiURL: apiURL,
		owner:  cfg.Owner,
		name:   cfg.Name,
		branch: cfg.Branch,
		token:  cfg.Token,
		client: client,
		logger: logger,
	}, nil
}

// LatestCommit resolves the newest commit on the branch that touched any of
// paths, and the blob hashes of paths in that commit's tree. Commits that
// touched none of paths are ignored. A failed tree lookup yields a commit
// without blobs rather than an error.
func (r *GitHubRepository) LatestCommit(ctx context.Context, paths []string) (Commit, error) {
	var (
		latest     gjson.Result
		latestDate time.Time
	)
	for _, path := range paths {
		candidate, err := r.lastCommitTouching(ctx, path)
		if err != nil {
			return Commit{}, err
		}
		if !candidate.Exists() {
			r.logger.Debug("no commit touches path", zap.String("origin", NameRepository), zap.String("path", path))
			continue
		}
		if date := commitDate(candidate); !latest.Exists() || date.After(latestDate) {
			latest, latestDate = candidate, date
		}
	}
	if !latest.Exists() {
		return Commit{}, malformed("no commit on %s touches %s", r.branch, strings.Join(paths, ", "))
	}

	sha := latest.Get("sha").String()
	commit := Commit{
		SHA:           sha,
		CommitterDate: parseGitHubTime(latest.Get("commit.committer.date").String()),
		AuthorDate:    parseGitHubTime(latest.Get("commit.author.date").String()),
		Blobs:         map[string]string{},
	}

	treeSHA := latest.Get("commit.tree.sha").String()
	if treeSHA == "" {
		treeSHA = sha
	}
	blobs, err := r.treeBlobs(ctx, treeSHA, paths)
	if err != nil {
		r.logger.Warn("repository tree lookup failed",
			zap.String("origin", NameRepository),
			zap.String("commit", sha),
			zap.Error(err),
		)
		return commit, nil
	}
	commit.Blobs = blobs
	return commit, nil
}

// lastCommitTouching returns the newest commit on the branch that changed
// path. The result does not exist when no commit touched it.
func (r *GitHubRepository) lastCommitTouching(ctx context.Context, path string) (gjson.Result, error) {
	query := url.Values{}
	query.Set("sha", r.branch)
	query.Set("path", path)
	query.Set("per_page", "1")
	body, err := r.get(ctx, r.repoURL("commits")+"?"+query.Encode())
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, malformed("commits response for %s is not JSON", path)
	}
	commits := gjson.ParseBytes(body)
	if !commits.IsArray() {
		return gjson.Result{}, malformed("commits response for %s is not a list", path)
	}
	head := commits.Get("0")
	if head.Exists() && head.Get("sha").String() == "" {
		return gjson.Result{}, malformed("commits response for %s has no sha", path)
	}
	return head, nil
}

func commitDate(commit gjson.Result) time.Time {
	if committed := parseGitHubTime(commit.Get("commit.committer.date").String()); !committed.IsZero() {
		return committed
	}
	return parseGitHubTime(commit.Get("commit.author.date").String())
}

// Blob downloads and decodes a blob by hash.
func (r *GitHubRepository) Blob(ctx context.Context, hash string) ([]byte, error) {
	body, err := r.get(ctx, r.repoURL("git/blobs/"+url.PathEscape(hash)))
	if err != nil {
		return nil, err
	}
	content := gjson.GetBytes(body, "content")
	if !content.Exists() {
		return nil, malformed("blob %s has no content", hash)
	}
	encoding := gjson.GetBytes(body, "encoding").String()
	switch encoding {
	case "base64":
		decoded, decodeErr := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.String(), "\n", ""))
		if decodeErr != nil {
			return nil, malformed("blob %s: %v", hash, decodeErr)
		}
		return decoded, nil
	case "utf-8", "":
		return []byte(content.String()), nil
	default:
		return nil, malformed("blob %s has unsupported encoding %q", hash, encoding)
	}
}

func (r *GitHubRepository) treeBlobs(ctx context.Context, treeSHA string, paths []string) (map[string]string, error) {
	body, err := r.get(ctx, r.repoURL("git/trees/"+url.PathEscape(treeSHA))+"?recursive=1")
	if err != nil {
		return nil, err
	}
	entries := gjson.GetBytes(body, "tree")
	if !entries.IsArray() {
		return nil, malformed("tree %s has no entries", treeSHA)
	}

	wanted := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		wanted[path] = struct{}{}
	}
	blobs := make(map[string]string, len(paths))
	entries.ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("type").String() != "blob" {
			return true
		}
		path := entry.Get("path").String()
		if _, ok := wanted[path]; ok {
			blobs[path] = entry.Get("sha").String()
		}
		return len(blobs) < len(wanted)
	})
	return blobs, nil
}

func (r *GitHubRepository) repoURL(suffix string) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s", r.apiURL, url.PathEscape(r.owner), url.PathEscape(r.name), suffix)
}

func (r *GitHubRepository) get(ctx context.Context, target string) ([]byte, error) {
	return r.client.Get(ctx, target,
		WithHeader("Accept", "application/vnd.github+json"),
		WithHeader("X-GitHub-Api-Version", "2022-11-28"),
		WithBearerToken(r.token),
	)
}

func parseGitHubTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
