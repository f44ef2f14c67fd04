package defsync

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("store is required")
	errMissingMirror = errors.New("mirror source is required")
	errMissingCodec  = errors.New("codec is required")
	errKindMismatch  = errors.New("codec kind does not match synchronizer kind")
	noOpLogger       = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code and the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "defsync.service.new"
	opSynchronizerNew = "defsync.synchronizer.new"
	opLoadDefinitions = "defsync.load_definitions"
	opSynchronize     = "defsync.synchronize"
	opStatus          = "defsync.status"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
