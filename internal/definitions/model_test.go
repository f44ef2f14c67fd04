package definitions

import (
	"errors"
	"testing"
	"time"
)

func TestParseKindAcceptsKnownKinds(t *testing.T) {
	testCases := []struct {
		input    string
		expected Kind
	}{
		{input: "main", expected: KindMain},
		{input: " Boundary ", expected: KindBoundary},
		{input: "APPROACH", expected: KindApproach},
	}
	for _, testCase := range testCases {
		kind, err := ParseKind(testCase.input)
		if err != nil {
			t.Fatalf("ParseKind(%q) returned error: %v", testCase.input, err)
		}
		if kind != testCase.expected {
			t.Fatalf("ParseKind(%q) = %q, expected %q", testCase.input, kind, testCase.expected)
		}
	}
}

func TestParseKindRejectsUnknownKind(t *testing.T) {
	if _, err := ParseKind("meta"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestSyncMetaWatermarkRoundTrip(t *testing.T) {
	meta := SyncMeta{LastGlobalCheck: 10}
	for index, kind := range Kinds() {
		meta = meta.WithWatermark(kind, Timestamp(100+index))
	}
	for index, kind := range Kinds() {
		if got := meta.Watermark(kind); got != Timestamp(100+index) {
			t.Fatalf("watermark for %s = %d, expected %d", kind, got, 100+index)
		}
	}
	if meta.LastGlobalCheck != 10 {
		t.Fatalf("last global check changed to %d", meta.LastGlobalCheck)
	}
}

func TestSyncMetaCheckDue(t *testing.T) {
	interval := 24 * time.Hour
	lastCheck := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	meta := SyncMeta{LastGlobalCheck: TimestampOf(lastCheck)}

	if meta.CheckDue(lastCheck.Add(time.Hour), interval) {
		t.Fatalf("expected check not due one hour after last check")
	}
	if !meta.CheckDue(lastCheck.Add(interval), interval) {
		t.Fatalf("expected check due exactly one interval after last check")
	}
	if !(SyncMeta{}).CheckDue(lastCheck, interval) {
		t.Fatalf("expected zero meta to be due")
	}
}

func TestNewTimestampRejectsNegative(t *testing.T) {
	if _, err := NewTimestamp(-1); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestSchemaErrorMatchesSentinel(t *testing.T) {
	var err error = &SchemaError{Kind: KindMain, Path: "airports[0].icao", Reason: "empty"}
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected SchemaError to match ErrSchema")
	}
}

func TestUnavailableErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := error(&UnavailableError{Kind: KindBoundary, Cause: cause})
	if !errors.Is(err, ErrDefinitionUnavailable) {
		t.Fatalf("expected ErrDefinitionUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Kind != KindBoundary {
		t.Fatalf("expected UnavailableError for boundary, got %v", err)
	}
}
