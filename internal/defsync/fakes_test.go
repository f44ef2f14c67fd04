package defsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/origin"
)

var errOffline = errors.New("connection refused")

type fakeStore struct {
	mu           sync.Mutex
	records      map[definitions.Kind]definitions.Record
	meta         definitions.SyncMeta
	metaErr      error
	putErr       error
	puts         []definitions.Kind
	checkedTimes []definitions.Timestamp
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[definitions.Kind]definitions.Record{}}
}

func (s *fakeStore) seed(kind definitions.Kind, label string, watermark definitions.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[kind] = definitions.Record{Kind: kind, Dataset: labelledDataset(kind, label)}
	s.meta = s.meta.WithWatermark(kind, watermark)
}

func (s *fakeStore) Get(_ context.Context, kind definitions.Kind) (definitions.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[kind]
	return record, ok, nil
}

func (s *fakeStore) Put(_ context.Context, record definitions.Record, watermark definitions.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.records[record.Kind] = record
	s.meta = s.meta.WithWatermark(record.Kind, watermark)
	s.puts = append(s.puts, record.Kind)
	return nil
}

func (s *fakeStore) Meta(context.Context) (definitions.SyncMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.metaErr
}

func (s *fakeStore) MarkChecked(_ context.Context, at definitions.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.LastGlobalCheck = at
	s.checkedTimes = append(s.checkedTimes, at)
	return nil
}

func (s *fakeStore) snapshot() definitions.SyncMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

type fakeRepository struct {
	mu        sync.Mutex
	memo      origin.Memo[origin.RepositoryMeta]
	meta      origin.RepositoryMeta
	metaErr   error
	blobs     map[string][]byte
	gate      chan struct{}
	metaCalls int
	blobCalls int
	resets    int
}

func (r *fakeRepository) Meta(ctx context.Context) (origin.RepositoryMeta, error) {
	return r.memo.Do(ctx, func(context.Context) (origin.RepositoryMeta, error) {
		r.mu.Lock()
		r.metaCalls++
		gate := r.gate
		meta, err := r.meta, r.metaErr
		r.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if err != nil {
			return origin.RepositoryMeta{}, &origin.Error{Origin: origin.NameRepository, Op: "meta", Err: err}
		}
		return meta, nil
	})
}

func (r *fakeRepository) Blob(_ context.Context, hash string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobCalls++
	content, ok := r.blobs[hash]
	if !ok {
		return nil, &origin.Error{Origin: origin.NameRepository, Op: "blob", Err: errOffline}
	}
	return content, nil
}

func (r *fakeRepository) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
	r.memo.Reset()
}

func (r *fakeRepository) counts() (metaCalls, blobCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metaCalls, r.blobCalls
}

type fakeMirror struct {
	mu        sync.Mutex
	memo      origin.Memo[origin.MirrorMeta]
	meta      origin.MirrorMeta
	metaErr   error
	files     map[string][]byte
	metaCalls int
	fileCalls int
	resets    int
}

func (m *fakeMirror) Meta(ctx context.Context) (origin.MirrorMeta, error) {
	return m.memo.Do(ctx, func(context.Context) (origin.MirrorMeta, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.metaCalls++
		if m.metaErr != nil {
			return origin.MirrorMeta{}, &origin.Error{Origin: origin.NameMirror, Op: "meta", Err: m.metaErr}
		}
		return m.meta, nil
	})
}

func (m *fakeMirror) File(_ context.Context, relativePath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCalls++
	content, ok := m.files[relativePath]
	if !ok {
		return nil, &origin.Error{Origin: origin.NameMirror, Op: "file", Err: errOffline}
	}
	return content, nil
}

func (m *fakeMirror) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	m.memo.Reset()
}

func (m *fakeMirror) counts() (metaCalls, fileCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metaCalls, m.fileCalls
}

// labelCodec parses raw bytes into a dataset labelled with the content.
// "garbage" fails to parse and "invalid" fails validation.
type labelCodec struct {
	kind definitions.Kind
}

func (c labelCodec) Kind() definitions.Kind {
	return c.kind
}

func (c labelCodec) Parse(raw []byte) (definitions.Dataset, error) {
	if string(raw) == "garbage" {
		return nil, errors.New("unexpected token")
	}
	return labelledDataset(c.kind, string(raw)), nil
}

func (c labelCodec) Validate(dataset definitions.Dataset) error {
	if datasetLabel(dataset) == "invalid" {
		return &definitions.SchemaError{Kind: c.kind, Path: "/type", Reason: "wrong type"}
	}
	return nil
}

func labelCodecs() map[definitions.Kind]definitions.Codec {
	codecs := map[definitions.Kind]definitions.Codec{}
	for _, kind := range definitions.Kinds() {
		codecs[kind] = labelCodec{kind: kind}
	}
	return codecs
}

func labelledDataset(kind definitions.Kind, label string) definitions.Dataset {
	switch kind {
	case definitions.KindMain:
		return &definitions.MainRegistry{Countries: []definitions.Country{{Name: label}}}
	case definitions.KindBoundary:
		return &definitions.BoundaryGeometry{Type: label}
	default:
		return &definitions.ApproachGeometry{Type: label}
	}
}

func datasetLabel(dataset definitions.Dataset) string {
	switch typed := dataset.(type) {
	case *definitions.MainRegistry:
		if typed == nil || len(typed.Countries) == 0 {
			return ""
		}
		return typed.Countries[0].Name
	case *definitions.BoundaryGeometry:
		if typed == nil {
			return ""
		}
		return typed.Type
	case *definitions.ApproachGeometry:
		if typed == nil {
			return ""
		}
		return typed.Type
	default:
		return ""
	}
}

// newOrigins builds origins that serve "<origin>-<kind>" content for every kind.
func newOrigins(repositoryTimestamp, mirrorTimestamp definitions.Timestamp) (*fakeRepository, *fakeMirror) {
	repository := &fakeRepository{
		meta: origin.RepositoryMeta{
			Timestamp:    repositoryTimestamp,
			CommitSHA:    "c0ffee",
			MainHash:     "hash-main",
			BoundaryHash: "hash-boundary",
		},
		blobs: map[string][]byte{
			"hash-main":     []byte("repository-main"),
			"hash-boundary": []byte("repository-boundary"),
		},
	}
	mirror := &fakeMirror{
		meta: origin.MirrorMeta{
			Timestamp:    mirrorTimestamp,
			MainPath:     "VATSpy.dat",
			BoundaryPath: "Boundaries.geojson",
			ApproachPath: "TRACONBoundaries.geojson",
		},
		files: map[string][]byte{
			"VATSpy.dat":               []byte("mirror-main"),
			"Boundaries.geojson":       []byte("mirror-boundary"),
			"TRACONBoundaries.geojson": []byte("mirror-approach"),
		},
	}
	return repository, mirror
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(duration)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	checks   []int64
}

func (r *fakeRecorder) SyncOutcome(kind, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind+":"+source)
}

func (r *fakeRecorder) Watermark(string, int64) {}

func (r *fakeRecorder) GlobalCheck(unixSeconds int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, unixSeconds)
}

func (r *fakeRecorder) summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.outcomes, ",")
}
