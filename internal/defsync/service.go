package defsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

// DefaultCheckInterval gates how often the origins are consulted.
const DefaultCheckInterval = 24 * time.Hour

const (
	flightLoad    = "load"
	flightRefresh = "refresh"
)

// ServiceConfig wires the orchestrator. Repository may be nil for
// mirror-only deployments.
type ServiceConfig struct {
	Store         Store
	Repository    RepositorySource
	Mirror        MirrorSource
	Codecs        map[definitions.Kind]definitions.Codec
	CheckInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
	Metrics       Recorder
}

// Definitions is the result of one synchronization session.
type Definitions struct {
	SessionID string
	CheckedAt time.Time
	// CheckDue reports whether the session consulted the origins.
	CheckDue bool
	Main     *definitions.MainRegistry
	Boundary *definitions.BoundaryGeometry
	Approach *definitions.ApproachGeometry
	Outcomes map[definitions.Kind]Outcome
}

// Dataset returns the resolved dataset of kind, if any.
func (d Definitions) Dataset(kind definitions.Kind) (definitions.Dataset, bool) {
	outcome, ok := d.Outcomes[kind]
	if !ok || outcome.Dataset == nil {
		return nil, false
	}
	return outcome.Dataset, true
}

// Status describes the persisted synchronization state.
type Status struct {
	Meta          definitions.SyncMeta
	CheckInterval time.Duration
	NextCheck     time.Time
	CheckDue      bool
}

// Service orchestrates the three synchronizers behind a global staleness gate.
type Service struct {
	store         Store
	repository    RepositorySource
	mirror        MirrorSource
	synchronizers []*Synchronizer
	checkInterval time.Duration
	clock         func() time.Time
	logger        *zap.Logger
	metrics       Recorder

	flights   singleflight.Group
	sessionMu sync.Mutex
}

// NewService validates cfg and builds one synchronizer per dataset kind.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Mirror == nil {
		return nil, newServiceError(opServiceNew, "missing_mirror", errMissingMirror)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	synchronizers := make([]*Synchronizer, 0, len(definitions.Kinds()))
	for _, kind := range definitions.Kinds() {
		synchronizer, err := NewSynchronizer(SynchronizerConfig{
			Kind:       kind,
			Codec:      cfg.Codecs[kind],
			Store:      cfg.Store,
			Repository: cfg.Repository,
			Mirror:     cfg.Mirror,
			Logger:     logger,
			Metrics:    cfg.Metrics,
		})
		if err != nil {
			return nil, err
		}
		synchronizers = append(synchronizers, synchronizer)
	}

	return &Service{
		store:         cfg.Store,
		repository:    cfg.Repository,
		mirror:        cfg.Mirror,
		synchronizers: synchronizers,
		checkInterval: checkInterval,
		clock:         clock,
		logger:        logger,
		metrics:       cfg.Metrics,
	}, nil
}

// LoadDefinitions resolves all three datasets, consulting the origins only
// when the global check is due or a dataset is missing. Concurrent callers
// share one session. The returned error joins one *definitions.UnavailableError
// per kind that could not be resolved; the other kinds are still returned.
func (s *Service) LoadDefinitions(ctx context.Context) (Definitions, error) {
	return s.share(ctx, flightLoad, false)
}

// Refresh runs a session with the staleness gate forced open.
func (s *Service) Refresh(ctx context.Context) (Definitions, error) {
	return s.share(ctx, flightRefresh, true)
}

// Status reports the persisted meta and when the next check is due.
func (s *Service) Status(ctx context.Context) (Status, error) {
	meta, err := s.store.Meta(ctx)
	if err != nil {
		s.logError(opStatus, "meta_read_failed", err)
		return Status{}, newServiceError(opStatus, "meta_read_failed", err)
	}
	return Status{
		Meta:          meta,
		CheckInterval: s.checkInterval,
		NextCheck:     meta.NextCheck(s.checkInterval),
		CheckDue:      meta.CheckDue(s.clock(), s.checkInterval),
	}, nil
}

func (s *Service) share(ctx context.Context, key string, force bool) (Definitions, error) {
	sessionCtx := context.WithoutCancel(ctx)
	results := s.flights.DoChan(key, func() (any, error) {
		return s.session(sessionCtx, force)
	})
	select {
	case result := <-results:
		loaded, _ := result.Val.(Definitions)
		return loaded, result.Err
	case <-ctx.Done():
		return Definitions{}, ctx.Err()
	}
}

func (s *Service) session(ctx context.Context, force bool) (Definitions, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	defer s.resetOrigins()

	sessionID := newSessionID()
	logger := s.logger.With(zap.String("session_id", sessionID))

	meta, err := s.store.Meta(ctx)
	if err != nil {
		s.logError(opLoadDefinitions, "meta_read_failed", err, zap.String("session_id", sessionID))
		return Definitions{}, newServiceError(opLoadDefinitions, "meta_read_failed", err)
	}
	now := s.clock()
	due := force || meta.CheckDue(now, s.checkInterval)

	outcomes := make([]Outcome, len(s.synchronizers))
	failures := make([]error, len(s.synchronizers))
	var group errgroup.Group
	for index, synchronizer := range s.synchronizers {
		cached := s.cachedRecord(ctx, logger, synchronizer.Kind())
		watermark := meta.Watermark(synchronizer.Kind())
		group.Go(func() error {
			outcomes[index], failures[index] = synchronizer.Synchronize(ctx, cached, watermark, due || cached == nil)
			return nil
		})
	}
	_ = group.Wait()

	if due {
		checkedAt := definitions.TimestampOf(now)
		if err := s.store.MarkChecked(ctx, checkedAt); err != nil {
			s.logError(opLoadDefinitions, "mark_checked_failed", err, zap.String("session_id", sessionID))
		} else if s.metrics != nil {
			s.metrics.GlobalCheck(checkedAt.Int64())
		}
	}

	loaded := Definitions{
		SessionID: sessionID,
		CheckedAt: now,
		CheckDue:  due,
		Outcomes:  make(map[definitions.Kind]Outcome, len(outcomes)),
	}
	for _, outcome := range outcomes {
		if outcome.Dataset == nil {
			continue
		}
		loaded.Outcomes[outcome.Kind] = outcome
		switch dataset := outcome.Dataset.(type) {
		case *definitions.MainRegistry:
			loaded.Main = dataset
		case *definitions.BoundaryGeometry:
			loaded.Boundary = dataset
		case *definitions.ApproachGeometry:
			loaded.Approach = dataset
		}
	}

	joined := errors.Join(failures...)
	logger.Info("definitions loaded",
		zap.Bool("check_due", due),
		zap.Int("resolved", len(loaded.Outcomes)),
		zap.Int("unavailable", len(s.synchronizers)-len(loaded.Outcomes)),
	)
	return loaded, joined
}

// cachedRecord loads the persisted record of kind. Unreadable records are
// treated as absent so the synchronizer fetches a replacement.
func (s *Service) cachedRecord(ctx context.Context, logger *zap.Logger, kind definitions.Kind) *definitions.Record {
	record, found, err := s.store.Get(ctx, kind)
	if err != nil {
		logger.Warn("cached definition unreadable",
			zap.String("operation", opLoadDefinitions),
			zap.String("reason", "record_read_failed"),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		return nil
	}
	if !found {
		return nil
	}
	return &record
}

func (s *Service) resetOrigins() {
	if s.repository != nil {
		s.repository.Reset()
	}
	s.mirror.Reset()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("defsync service error", attrs...)
}

func newSessionID() string {
	identifier, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return identifier.String()
}
