package defsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/origin"
)

// Store is the persistence the synchronizers and the orchestrator need.
type Store interface {
	Get(ctx context.Context, kind definitions.Kind) (definitions.Record, bool, error)
	Put(ctx context.Context, record definitions.Record, watermark definitions.Timestamp) error
	Meta(ctx context.Context) (definitions.SyncMeta, error)
	MarkChecked(ctx context.Context, at definitions.Timestamp) error
}

// RepositorySource is the session-memoized repository origin.
type RepositorySource interface {
	Meta(ctx context.Context) (origin.RepositoryMeta, error)
	Blob(ctx context.Context, hash string) ([]byte, error)
	Reset()
}

// MirrorSource is the session-memoized mirror origin.
type MirrorSource interface {
	Meta(ctx context.Context) (origin.MirrorMeta, error)
	File(ctx context.Context, relativePath string) ([]byte, error)
	Reset()
}

// Recorder receives synchronization metrics.
type Recorder interface {
	SyncOutcome(kind, source string)
	Watermark(kind string, unixSeconds int64)
	GlobalCheck(unixSeconds int64)
}

// Source names where a synchronizer obtained its dataset.
type Source string

const (
	// SourceCache means the persisted dataset was current.
	SourceCache Source = "cache"
	// SourceRepository means a fresh dataset came from the repository.
	SourceRepository Source = "repository"
	// SourceMirror means a fresh dataset came from the mirror.
	SourceMirror Source = "mirror"
	// SourceStale means both origins failed and the persisted dataset was served.
	SourceStale Source = "stale"
)

// Outcome is the resolved dataset of one kind.
type Outcome struct {
	Kind      definitions.Kind
	Dataset   definitions.Dataset
	Source    Source
	Watermark definitions.Timestamp
}

// SynchronizerConfig wires one per-kind synchronizer. Repository is ignored
// for the approach kind, which only the mirror hosts.
type SynchronizerConfig struct {
	Kind       definitions.Kind
	Codec      definitions.Codec
	Store      Store
	Repository RepositorySource
	Mirror     MirrorSource
	Logger     *zap.Logger
	Metrics    Recorder
}

// Synchronizer keeps one dataset kind current.
type Synchronizer struct {
	kind       definitions.Kind
	codec      definitions.Codec
	store      Store
	repository RepositorySource
	mirror     MirrorSource
	logger     *zap.Logger
	metrics    Recorder
}

// NewSynchronizer validates cfg and returns a synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if _, err := definitions.ParseKind(cfg.Kind.String()); err != nil {
		return nil, newServiceError(opSynchronizerNew, "invalid_kind", err)
	}
	if cfg.Codec == nil {
		return nil, newServiceError(opSynchronizerNew, "missing_codec", errMissingCodec)
	}
	if cfg.Codec.Kind() != cfg.Kind {
		return nil, newServiceError(opSynchronizerNew, "codec_mismatch", errKindMismatch)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opSynchronizerNew, "missing_store", errMissingStore)
	}
	if cfg.Mirror == nil {
		return nil, newServiceError(opSynchronizerNew, "missing_mirror", errMissingMirror)
	}
	repository := cfg.Repository
	if cfg.Kind == definitions.KindApproach {
		repository = nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Synchronizer{
		kind:       cfg.Kind,
		codec:      cfg.Codec,
		store:      cfg.Store,
		repository: repository,
		mirror:     cfg.Mirror,
		logger:     logger.With(zap.String("kind", cfg.Kind.String())),
		metrics:    cfg.Metrics,
	}, nil
}

// Kind reports the dataset kind this synchronizer owns.
func (s *Synchronizer) Kind() definitions.Kind {
	return s.kind
}

// Synchronize resolves the dataset of its kind. cached is the persisted
// record (nil when none), watermark its persisted version timestamp, and
// checkDue whether the origins may be consulted at all. The only error it
// returns is a *definitions.UnavailableError.
func (s *Synchronizer) Synchronize(ctx context.Context, cached *definitions.Record, watermark definitions.Timestamp, checkDue bool) (Outcome, error) {
	if !checkDue && cached != nil {
		return s.finish(s.cachedOutcome(cached, watermark, SourceCache)), nil
	}

	metas := s.fetchMetas(ctx)
	causes := metas.causes()

	if cached != nil && metas.current(watermark) {
		s.logger.Debug("dataset current", zap.Int64("watermark", watermark.Int64()))
		return s.finish(s.cachedOutcome(cached, watermark, SourceCache)), nil
	}

	if metas.repositoryOK && metas.preferRepository(watermark, cached == nil) {
		if hash, ok := metas.repository.HashFor(s.kind); ok {
			dataset, err := s.fetchFromRepository(ctx, hash)
			if err == nil {
				return s.finish(s.persist(ctx, dataset, metas.repository.Timestamp, SourceRepository)), nil
			}
			s.logFailure("repository_fetch_failed", err, zap.String("hash", hash))
			causes = append(causes, err)
		} else {
			s.logger.Debug("repository exposes no hash", zap.String("commit", metas.repository.CommitSHA))
		}
	}

	if metas.mirrorOK {
		relativePath := metas.mirror.PathFor(s.kind)
		dataset, err := s.fetchFromMirror(ctx, relativePath)
		if err == nil {
			return s.finish(s.persist(ctx, dataset, metas.mirror.Timestamp, SourceMirror)), nil
		}
		s.logFailure("mirror_fetch_failed", err, zap.String("path", relativePath))
		causes = append(causes, err)
	}

	if cached != nil {
		s.logger.Warn("serving stale dataset", zap.Int64("watermark", watermark.Int64()))
		return s.finish(s.cachedOutcome(cached, watermark, SourceStale)), nil
	}

	unavailable := &definitions.UnavailableError{Kind: s.kind, Cause: errors.Join(causes...)}
	s.logFailure("definition_unavailable", unavailable)
	return Outcome{Kind: s.kind}, unavailable
}

type originMetas struct {
	repository    origin.RepositoryMeta
	repositoryErr error
	repositoryOK  bool
	mirror        origin.MirrorMeta
	mirrorErr     error
	mirrorOK      bool
}

// current reports whether the watermark is at least as new as every origin
// that answered. A zero watermark is never current.
func (m originMetas) current(watermark definitions.Timestamp) bool {
	if watermark == 0 || (!m.repositoryOK && !m.mirrorOK) {
		return false
	}
	if m.repositoryOK && watermark < m.repository.Timestamp {
		return false
	}
	if m.mirrorOK && watermark < m.mirror.Timestamp {
		return false
	}
	return true
}

// preferRepository reports whether the repository holds a strictly newer
// version than the mirror. Exact ties go to the mirror.
func (m originMetas) preferRepository(watermark definitions.Timestamp, missing bool) bool {
	if m.mirrorOK {
		return m.repository.Timestamp > m.mirror.Timestamp
	}
	return missing || m.repository.Timestamp > watermark
}

func (m originMetas) causes() []error {
	causes := make([]error, 0, 2)
	if m.repositoryErr != nil {
		causes = append(causes, m.repositoryErr)
	}
	if m.mirrorErr != nil {
		causes = append(causes, m.mirrorErr)
	}
	return causes
}

func (s *Synchronizer) fetchMetas(ctx context.Context) originMetas {
	var metas originMetas
	var waitGroup sync.WaitGroup
	if s.repository != nil {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			metas.repository, metas.repositoryErr = s.repository.Meta(ctx)
			metas.repositoryOK = metas.repositoryErr == nil
		}()
	}
	metas.mirror, metas.mirrorErr = s.mirror.Meta(ctx)
	metas.mirrorOK = metas.mirrorErr == nil
	waitGroup.Wait()

	if metas.repositoryErr != nil {
		s.logFailure("repository_meta_unavailable", metas.repositoryErr)
	}
	if metas.mirrorErr != nil {
		s.logFailure("mirror_meta_unavailable", metas.mirrorErr)
	}
	return metas
}

func (s *Synchronizer) fetchFromRepository(ctx context.Context, hash string) (definitions.Dataset, error) {
	raw, err := s.repository.Blob(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.decode(raw)
}

func (s *Synchronizer) fetchFromMirror(ctx context.Context, relativePath string) (definitions.Dataset, error) {
	raw, err := s.mirror.File(ctx, relativePath)
	if err != nil {
		return nil, err
	}
	return s.decode(raw)
}

func (s *Synchronizer) decode(raw []byte) (definitions.Dataset, error) {
	dataset, err := s.codec.Parse(raw)
	if err != nil {
		return nil, err
	}
	if dataset == nil || dataset.Kind() != s.kind {
		return nil, fmt.Errorf("%w: codec produced %T", errKindMismatch, dataset)
	}
	if err := s.codec.Validate(dataset); err != nil {
		return nil, err
	}
	return dataset, nil
}

// persist stores the fresh dataset. A failed write is logged and the fresh
// dataset is still served; the next due check fetches it again.
func (s *Synchronizer) persist(ctx context.Context, dataset definitions.Dataset, watermark definitions.Timestamp, source Source) Outcome {
	record := definitions.Record{Kind: s.kind, Dataset: dataset}
	if err := s.store.Put(ctx, record, watermark); err != nil {
		s.logFailure("persist_failed", err, zap.String("source", string(source)))
	} else {
		s.logger.Info("dataset updated",
			zap.String("source", string(source)),
			zap.Int64("watermark", watermark.Int64()),
		)
	}
	return Outcome{Kind: s.kind, Dataset: dataset, Source: source, Watermark: watermark}
}

func (s *Synchronizer) cachedOutcome(cached *definitions.Record, watermark definitions.Timestamp, source Source) Outcome {
	return Outcome{Kind: s.kind, Dataset: cached.Dataset, Source: source, Watermark: watermark}
}

func (s *Synchronizer) finish(outcome Outcome) Outcome {
	if s.metrics != nil {
		s.metrics.SyncOutcome(s.kind.String(), string(outcome.Source))
		s.metrics.Watermark(s.kind.String(), outcome.Watermark.Int64())
	}
	return outcome
}

func (s *Synchronizer) logFailure(reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", opSynchronize),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Warn("synchronizer fallback", attrs...)
}
