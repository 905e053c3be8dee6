package moderation

import (
	"emperror.dev/errors"
)

const (
	// ErrPermissionDenied means the acting system lacks the rights for
	// the operation. Final for the request, never retried.
	ErrPermissionDenied = errors.Sentinel("permission denied")

	// ErrNotFound means the target no longer exists or is already in
	// the desired state; the scheduler treats it as reconciliation.
	ErrNotFound = errors.Sentinel("not found")

	// ErrValidation marks malformed input rejected before any side
	// effect.
	ErrValidation = errors.Sentinel("validation failed")
)

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailurePermissionDenied
	FailureNotFound
	FailureTransient
	FailureValidation
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailurePermissionDenied:
		return "permission_denied"
	case FailureNotFound:
		return "not_found"
	case FailureValidation:
		return "validation"
	}

	return "transient"
}

// Classify maps an error from the perform phase onto the failure
// taxonomy. Anything that isn't one of the known sentinels is assumed
// to be a transient I/O or service failure the caller may retry.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrPermissionDenied):
		return FailurePermissionDenied
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrValidation):
		return FailureValidation
	}

	return FailureTransient
}
