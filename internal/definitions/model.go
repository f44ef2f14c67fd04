package definitions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the independently versioned reference datasets.
type Kind string

const (
	// KindMain is the station/airport registry (countries, airports, FIRs, UIRs).
	KindMain Kind = "main"
	// KindBoundary is the airspace boundary geometry.
	KindBoundary Kind = "boundary"
	// KindApproach is the approach-control boundary geometry.
	KindApproach Kind = "approach"
)

// MetaKey addresses the synchronization metadata row in the store.
const MetaKey = "meta"

var (
	// ErrInvalidKind indicates that a dataset kind is not one of the known kinds.
	ErrInvalidKind = errors.New("definitions: invalid kind")
	// ErrInvalidTimestamp indicates that a unix timestamp value is negative.
	ErrInvalidTimestamp = errors.New("definitions: invalid unix timestamp")
)

// Kinds lists every dataset kind in synchronization order.
func Kinds() []Kind {
	return []Kind{KindMain, KindBoundary, KindApproach}
}

// ParseKind validates raw input and returns a Kind.
func ParseKind(rawInput string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case KindMain:
		return KindMain, nil
	case KindBoundary:
		return KindBoundary, nil
	case KindApproach:
		return KindApproach, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, rawInput)
	}
}

// String returns the store key of the kind.
func (k Kind) String() string {
	return string(k)
}

// Timestamp is a unix timestamp in seconds. The zero value is the epoch.
type Timestamp int64

// NewTimestamp validates the value and returns a Timestamp.
func NewTimestamp(value int64) (Timestamp, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return Timestamp(value), nil
}

// TimestampOf converts a wall clock time to a Timestamp.
func TimestampOf(moment time.Time) Timestamp {
	if moment.IsZero() || moment.Unix() < 0 {
		return 0
	}
	return Timestamp(moment.Unix())
}

// Int64 exposes the raw unix seconds value.
func (ts Timestamp) Int64() int64 {
	return int64(ts)
}

// Time converts the timestamp back to UTC wall clock time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

// SyncMeta is the persisted synchronization bookkeeping singleton.
type SyncMeta struct {
	LastGlobalCheck   Timestamp `json:"last_global_check_s"`
	MainUpdatedAt     Timestamp `json:"main_updated_at_s"`
	BoundaryUpdatedAt Timestamp `json:"boundary_updated_at_s"`
	ApproachUpdatedAt Timestamp `json:"approach_updated_at_s"`
}

// Watermark returns the timestamp of the most recently persisted version of kind.
func (m SyncMeta) Watermark(kind Kind) Timestamp {
	switch kind {
	case KindMain:
		return m.MainUpdatedAt
	case KindBoundary:
		return m.BoundaryUpdatedAt
	case KindApproach:
		return m.ApproachUpdatedAt
	default:
		return 0
	}
}

// WithWatermark returns a copy of the meta with the watermark of kind replaced.
func (m SyncMeta) WithWatermark(kind Kind, watermark Timestamp) SyncMeta {
	switch kind {
	case KindMain:
		m.MainUpdatedAt = watermark
	case KindBoundary:
		m.BoundaryUpdatedAt = watermark
	case KindApproach:
		m.ApproachUpdatedAt = watermark
	}
	return m
}

// NextCheck reports when the next global staleness check becomes due.
func (m SyncMeta) NextCheck(interval time.Duration) time.Time {
	return m.LastGlobalCheck.Time().Add(interval)
}

// CheckDue reports whether the global staleness check is due at now.
func (m SyncMeta) CheckDue(now time.Time, interval time.Duration) bool {
	return !m.NextCheck(interval).After(now)
}

// Dataset is an immutable parsed reference dataset. Datasets are replaced
// wholesale on refresh and must not be mutated after parsing.
type Dataset interface {
	Kind() Kind
}

// Record is the persisted unit: one dataset per kind.
type Record struct {
	Kind    Kind
	Dataset Dataset
}

// NewDataset returns an empty dataset value of the type backing kind.
func NewDataset(kind Kind) (Dataset, error) {
	switch kind {
	case KindMain:
		return &MainRegistry{}, nil
	case KindBoundary:
		return &BoundaryGeometry{}, nil
	case KindApproach:
		return &ApproachGeometry{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// Codec parses and validates the raw file format of one dataset kind.
type Codec interface {
	Kind() Kind
	// Parse decodes raw file content into a dataset.
	Parse(raw []byte) (Dataset, error)
	// Validate reports the first structural violation as a *SchemaError.
	Validate(dataset Dataset) error
}
