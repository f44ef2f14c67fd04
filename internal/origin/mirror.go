package origin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

// DefaultManifestPath is the mirror manifest location relative to the base URL.
const DefaultManifestPath = "manifest.json"

var errMissingMirrorBaseURL = errors.New("origin: mirror base url is required")

// MirrorMeta is the mirror's view of the datasets it hosts.
type MirrorMeta struct {
	Timestamp    definitions.Timestamp
	MainPath     string
	BoundaryPath string
	ApproachPath string
}

// PathFor returns the relative file path of kind on the mirror.
func (m MirrorMeta) PathFor(kind definitions.Kind) string {
	switch kind {
	case definitions.KindMain:
		return m.MainPath
	case definitions.KindBoundary:
		return m.BoundaryPath
	case definitions.KindApproach:
		return m.ApproachPath
	default:
		return ""
	}
}

// MirrorConfig wires a MirrorMetaFetcher.
type MirrorConfig struct {
	BaseURL      string
	ManifestPath string
	Client       *HTTPClient
	Logger       *zap.Logger
	Metrics      Recorder
}

// MirrorMetaFetcher resolves the mirror manifest once per session and serves files.
type MirrorMetaFetcher struct {
	baseURL      *url.URL
	manifestPath string
	client       *HTTPClient
	logger       *zap.Logger
	metrics      Recorder
	memo         Memo[MirrorMeta]
}

// NewMirrorMetaFetcher validates cfg and returns a fetcher.
func NewMirrorMetaFetcher(cfg MirrorConfig) (*MirrorMetaFetcher, error) {
	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		return nil, errMissingMirrorBaseURL
	}
	if !strings.HasSuffix(rawBase, "/") {
		rawBase += "/"
	}
	baseURL, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("origin: invalid mirror base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("origin: mirror base url %q must be absolute", cfg.BaseURL)
	}
	manifestPath := strings.TrimSpace(cfg.ManifestPath)
	if manifestPath == "" {
		manifestPath = DefaultManifestPath
	}
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorMetaFetcher{
		baseURL:      baseURL,
		manifestPath: manifestPath,
		client:       client,
		logger:       logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Meta returns the memoized mirror meta for the current session.
func (f *MirrorMetaFetcher) Meta(ctx context.Context) (MirrorMeta, error) {
	return f.memo.Do(ctx, f.fetch)
}

// File downloads a file by its path relative to the mirror base URL.
func (f *MirrorMetaFetcher) File(ctx context.Context, relativePath string) ([]byte, error) {
	target, err := f.resolve(relativePath)
	if err == nil {
		var content []byte
		content, err = f.client.Get(ctx, target)
		if err == nil {
			record(f.metrics, NameMirror, "file", nil)
			return content, nil
		}
	}
	record(f.metrics, NameMirror, "file", err)
	return nil, newError(NameMirror, "file", err)
}

// Reset ends the session so the next Meta call fetches again.
func (f *MirrorMetaFetcher) Reset() {
	f.memo.Reset()
}

func (f *MirrorMetaFetcher) fetch(ctx context.Context) (MirrorMeta, error) {
	meta, err := f.fetchManifest(ctx)
	record(f.metrics, NameMirror, "meta", err)
	if err != nil {
		f.logger.Warn("mirror meta fetch failed", zap.String("origin", NameMirror), zap.Error(err))
		return MirrorMeta{}, newError(NameMirror, "meta", err)
	}
	f.logger.Debug("mirror meta fetched",
		zap.String("origin", NameMirror),
		zap.Int64("timestamp", meta.Timestamp.Int64()),
	)
	return meta, nil
}

func (f *MirrorMetaFetcher) fetchManifest(ctx context.Context) (MirrorMeta, error) {
	target, err := f.resolve(f.manifestPath)
	if err != nil {
		return MirrorMeta{}, err
	}
	body, err := f.client.Get(ctx, target)
	if err != nil {
		return MirrorMeta{}, err
	}
	if !gjson.ValidBytes(body) {
		return MirrorMeta{}, malformed("manifest is not JSON")
	}

	fields := gjson.GetManyBytes(body, "updated_at", "files.main", "files.boundary", "files.approach")
	updatedAt := fields[0]
	if updatedAt.Type != gjson.Number {
		return MirrorMeta{}, malformed("manifest has no numeric updated_at")
	}
	timestamp, err := definitions.NewTimestamp(updatedAt.Int())
	if err != nil {
		return MirrorMeta{}, malformed("manifest updated_at: %v", err)
	}
	names := []string{"main", "boundary", "approach"}
	for index, name := range names {
		if fields[index+1].String() == "" {
			return MirrorMeta{}, malformed("manifest has no files.%s", name)
		}
	}
	return MirrorMeta{
		Timestamp:    timestamp,
		MainPath:     fields[1].String(),
		BoundaryPath: fields[2].String(),
		ApproachPath: fields[3].String(),
	}, nil
}

func (f *MirrorMetaFetcher) resolve(relativePath string) (string, error) {
	reference, err := url.Parse(strings.TrimPrefix(strings.TrimSpace(relativePath), "/"))
	if err != nil {
		return "", fmt.Errorf("invalid mirror path %q: %w", relativePath, err)
	}
	if reference.String() == "" {
		return "", errors.New("empty mirror path")
	}
	return f.baseURL.ResolveReference(reference).String(), nil
}
