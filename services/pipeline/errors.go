// Package pipeline holds the error kinds shared by the extraction and
// processing runs.
package pipeline

import (
	"errors"

	"incentive-pipeline/pkg/errutil"
)

// Kind classifies a pipeline failure. Kinds are comparable with errors.Is.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// ErrConfiguration aborts a run before any work; not retryable until the
	// campaign is fixed.
	ErrConfiguration Kind = "configuration_error"
	// ErrSourceUnavailable fails an extraction; retryable.
	ErrSourceUnavailable Kind = "source_unavailable"
	// ErrTransform is isolated to one row.
	ErrTransform Kind = "transform_error"
	// ErrAccrual is isolated to one record.
	ErrAccrual Kind = "accrual_error"
	// ErrPersistence aborts the current run.
	ErrPersistence Kind = "persistence_error"
)

// Error is a BaseError tagged with a Kind.
type Error struct {
	errutil.BaseError
	Kind Kind
}

func (e Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e Error) Unwrap() error { return e.BaseError }

func newError(kind Kind, code errutil.CoreStatus, msg string, err error, opts ...errutil.Option) error {
	be := errutil.BaseError{Code: code, Message: msg, Err: err}
	for _, opt := range opts {
		opt(&be)
	}
	return Error{BaseError: be, Kind: kind}
}

func Configuration(msg string, err error, opts ...errutil.Option) error {
	return newError(ErrConfiguration, errutil.StatusUnprocessableEntity, msg, err, opts...)
}

func SourceUnavailable(msg string, err error, opts ...errutil.Option) error {
	return newError(ErrSourceUnavailable, errutil.StatusServiceUnavailable, msg, err, opts...)
}

func Transform(msg string, err error, opts ...errutil.Option) error {
	return newError(ErrTransform, errutil.StatusValidationFailed, msg, err, opts...)
}

// Accrual keeps the upstream status so callers can tell retryable failures
// apart.
func Accrual(code errutil.CoreStatus, msg string, err error, opts ...errutil.Option) error {
	if code == "" {
		code = errutil.StatusBadGateway
	}
	return newError(ErrAccrual, code, msg, err, opts...)
}

func Persistence(msg string, err error, opts ...errutil.Option) error {
	return newError(ErrPersistence, errutil.StatusInternal, msg, err, opts...)
}

// KindOf returns the Kind attached to err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var pe Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Retryable reports whether re-running the same job can succeed without a
// configuration change.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case ErrConfiguration, ErrTransform:
		return false
	case ErrAccrual:
		return errutil.StatusOf(err).Retryable()
	default:
		return true
	}
}
