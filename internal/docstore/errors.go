package docstore

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Store matches exactly one of these with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrNotFound         = errors.New("not found")
	ErrProvider         = errors.New("embedding provider failure")
	ErrPartialFailure   = errors.New("partial failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Kind names used on the wire.
const (
	KindValidation       = "validation_error"
	KindQuotaExceeded    = "quota_exceeded"
	KindNotFound         = "not_found"
	KindProvider         = "provider_failure"
	KindPartialFailure   = "partial_failure"
	KindStoreUnavailable = "store_unavailable"
)

// Kind returns the wire name of err's kind. Unclassified errors report store_unavailable.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPartialFailure):
		return KindPartialFailure
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrProvider):
		return KindProvider
	default:
		return KindStoreUnavailable
	}
}

// kindError attaches a kind sentinel to a cause while keeping both visible to errors.Is.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func newKindError(kind, cause error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func validationf(format string, args ...any) error {
	return newKindError(ErrValidation, nil, format, args...)
}

func unavailable(cause error, format string, args ...any) error {
	return newKindError(ErrStoreUnavailable, cause, format, args...)
}

func providerFailure(cause error, format string, args ...any) error {
	return newKindError(ErrProvider, cause, format, args...)
}

func notFoundf(cause error, format string, args ...any) error {
	return newKindError(ErrNotFound, cause, format, args...)
}

// PartialFailureError reports that an operation left exactly one record of an
// item's pair behind. Step names the write that failed.
type PartialFailureError struct {
	Op     string
	PK     string
	ItemID int64
	Step   string
	Err    error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: partial failure for item %s (item_id %d) at %s: %v", e.Op, e.PK, e.ItemID, e.Step, e.Err)
}

// Unwrap exposes both ErrPartialFailure and the underlying cause.
func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}
