package definitions

import (
	"errors"
	"fmt"
)

var (
	// ErrOriginUnavailable indicates that an origin could not be reached or
	// returned an unusable response.
	ErrOriginUnavailable = errors.New("definitions: origin unavailable")
	// ErrSchema indicates that a parsed dataset failed structural validation.
	ErrSchema = errors.New("definitions: schema violation")
	// ErrDefinitionUnavailable indicates that no fresh or cached dataset exists.
	ErrDefinitionUnavailable = errors.New("definitions: definition unavailable")
)

// SchemaError describes the first structural violation found in a dataset.
type SchemaError struct {
	Kind   Kind
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("definitions: %s schema violation: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("definitions: %s schema violation at %s: %s", e.Kind, e.Path, e.Reason)
}

// Is matches ErrSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// UnavailableError reports that a dataset kind could be neither fetched nor
// served from cache.
type UnavailableError struct {
	Kind  Kind
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("definitions: %s definition unavailable", e.Kind)
	}
	return fmt.Sprintf("definitions: %s definition unavailable: %v", e.Kind, e.Cause)
}

// Unwrap exposes both the sentinel and the last underlying cause.
func (e *UnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrDefinitionUnavailable}
	}
	return []error{ErrDefinitionUnavailable, e.Cause}
}
