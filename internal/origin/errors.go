package origin

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

const (
	// NameRepository labels the version-controlled origin.
	NameRepository = "repository"
	// NameMirror labels the mirror origin.
	NameMirror = "mirror"
)

// ErrMalformedResponse indicates that an origin answered with a body missing required fields.
var ErrMalformedResponse = errors.New("origin: malformed response")

// Error describes a failed origin operation. It always matches
// definitions.ErrOriginUnavailable.
type Error struct {
	Origin string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("origin %s %s: %v", e.Origin, e.Op, e.Err)
}

// Unwrap exposes the unavailability sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{definitions.ErrOriginUnavailable, e.Err}
}

func newError(originName, operation string, cause error) error {
	return &Error{Origin: originName, Op: operation, Err: cause}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// Recorder receives origin fetch outcomes. The metrics package implements it.
type Recorder interface {
	OriginFetch(originName, operation string, err error)
}

func record(recorder Recorder, originName, operation string, err error) {
	if recorder != nil {
		recorder.OriginFetch(originName, operation, err)
	}
}
