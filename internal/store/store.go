package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

var (
	// ErrCorruptRecord indicates a persisted payload that no longer decodes.
	ErrCorruptRecord = errors.New("store: corrupt record")
	// ErrInvalidRecord indicates a record whose kind and dataset disagree.
	ErrInvalidRecord = errors.New("store: invalid record")

	errMissingDatabase = errors.New("store: database handle is required")
	errMissingOpener   = errors.New("store: opener is required")
)

// Row is the persisted layout: one row per dataset kind plus the meta row.
type Row struct {
	Kind            string `gorm:"column:kind;primaryKey;size:32;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
	StoredAtSeconds int64  `gorm:"column:stored_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Row) TableName() string {
	return "definition_rows"
}

// Opener opens and migrates the backing database.
type Opener func(ctx context.Context) (*gorm.DB, error)

// Config carries optional collaborators.
type Config struct {
	Clock  func() time.Time
	Logger *zap.Logger
}

// Store persists dataset records and synchronization meta.
type Store struct {
	gate    readyGate
	db      *gorm.DB
	clock   func() time.Time
	logger  *zap.Logger
	writeMu sync.Mutex
}

// Open returns immediately and opens the database in the background.
// Operations issued before the open completes wait for it.
func Open(ctx context.Context, opener Opener, cfg Config) *Store {
	store := newStore(cfg)
	if opener == nil {
		store.gate.open(errMissingOpener)
		return store
	}
	openCtx := context.WithoutCancel(ctx)
	go func() {
		db, err := opener(openCtx)
		if err == nil && db == nil {
			err = errMissingDatabase
		}
		if err != nil {
			store.logger.Error("store open failed", zap.Error(err))
			store.gate.open(fmt.Errorf("store: open: %w", err))
			return
		}
		store.db = db
		store.gate.open(nil)
	}()
	return store
}

// New wraps an already opened database.
func New(db *gorm.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	store := newStore(cfg)
	store.db = db
	store.gate.open(nil)
	return store, nil
}

func newStore(cfg Config) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{clock: clock, logger: logger}
}

// Ready blocks until the store is open and reports the open error, if any.
func (s *Store) Ready(ctx context.Context) error {
	release, err := s.gate.wait(ctx)
	release()
	return err
}

// Get loads the record of kind. The boolean is false when none is stored.
func (s *Store) Get(ctx context.Context, kind definitions.Kind) (definitions.Record, bool, error) {
	release, err := s.gate.wait(ctx)
	defer release()
	if err != nil {
		return definitions.Record{}, false, err
	}
	row, found, err := loadRow(s.db.WithContext(ctx), kind.String())
	if err != nil || !found {
		return definitions.Record{}, false, err
	}

	dataset, err := definitions.NewDataset(kind)
	if err != nil {
		return definitions.Record{}, false, err
	}
	if err := json.Unmarshal([]byte(row.PayloadJSON), dataset); err != nil {
		return definitions.Record{}, false, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, kind, err)
	}
	return definitions.Record{Kind: kind, Dataset: dataset}, true, nil
}

// Put stores the record and advances the kind's watermark in one transaction.
func (s *Store) Put(ctx context.Context, record definitions.Record, watermark definitions.Timestamp) error {
	if record.Dataset == nil || record.Dataset.Kind() != record.Kind {
		return fmt.Errorf("%w: kind %q", ErrInvalidRecord, record.Kind)
	}
	release, err := s.gate.wait(ctx)
	defer release()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record.Dataset)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", record.Kind, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	storedAt := s.clock().UTC().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meta, err := loadMeta(tx)
		if err != nil {
			return err
		}
		row := Row{Kind: record.Kind.String(), PayloadJSON: string(payload), StoredAtSeconds: storedAt}
		if err := upsertRow(tx, row); err != nil {
			return err
		}
		return saveMeta(tx, meta.WithWatermark(record.Kind, watermark), storedAt)
	})
}

// Meta loads the synchronization meta; absent meta is the zero value.
func (s *Store) Meta(ctx context.Context) (definitions.SyncMeta, error) {
	release, err := s.gate.wait(ctx)
	defer release()
	if err != nil {
		return definitions.SyncMeta{}, err
	}
	return loadMeta(s.db.WithContext(ctx))
}

// PutMeta replaces the synchronization meta.
func (s *Store) PutMeta(ctx context.Context, meta definitions.SyncMeta) error {
	release, err := s.gate.wait(ctx)
	defer release()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return saveMeta(s.db.WithContext(ctx), meta, s.clock().UTC().Unix())
}

// MarkChecked advances only the last global check time, leaving watermarks intact.
func (s *Store) MarkChecked(ctx context.Context, at definitions.Timestamp) error {
	release, err := s.gate.wait(ctx)
	defer release()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	storedAt := s.clock().UTC().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meta, err := loadMeta(tx)
		if err != nil {
			return err
		}
		meta.LastGlobalCheck = at
		return saveMeta(tx, meta, storedAt)
	})
}

// Close releases the underlying connection pool once the store is open.
func (s *Store) Close(ctx context.Context) error {
	release, err := s.gate.wait(ctx)
	defer release()
	if err != nil {
		return err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func loadRow(db *gorm.DB, key string) (Row, bool, error) {
	var row Row
	err := db.Where("kind = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("store: load %s: %w", key, err)
	}
	return row, true, nil
}

func loadMeta(db *gorm.DB) (definitions.SyncMeta, error) {
	row, found, err := loadRow(db, definitions.MetaKey)
	if err != nil || !found {
		return definitions.SyncMeta{}, err
	}
	var meta definitions.SyncMeta
	if err := json.Unmarshal([]byte(row.PayloadJSON), &meta); err != nil {
		return definitions.SyncMeta{}, fmt.Errorf("%w: meta: %v", ErrCorruptRecord, err)
	}
	return meta, nil
}

func saveMeta(db *gorm.DB, meta definitions.SyncMeta, storedAt int64) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode meta: %w", err)
	}
	return upsertRow(db, Row{Kind: definitions.MetaKey, PayloadJSON: string(payload), StoredAtSeconds: storedAt})
}

func upsertRow(db *gorm.DB, row Row) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "stored_at_s"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save %s: %w", row.Kind, err)
	}
	return nil
}
