package entity

import "errors"

// Sentinel errors returned across gateway and pipeline boundaries. Callers
// match with errors.Is; wrapping is expected to preserve these.
var (
	// ErrNotFound means the external ID has no mapping at all.
	ErrNotFound = errors.New("entity: not found")

	// ErrNoRevisions means the entity exists (a mapping row was allocated)
	// but no revision has ever been committed — a half-created entity.
	ErrNoRevisions = errors.New("entity: no revisions")

	// ErrRevisionNotFound means the entity exists but the requested
	// revision id was never issued or is out of range.
	ErrRevisionNotFound = errors.New("entity: revision not found")

	// ErrGone means the entity was hard-deleted: resolving its current
	// entity fails, while its stored revisions and history stay readable.
	ErrGone = errors.New("entity: gone")

	// ErrRedirected is not itself an error returned to HTTP callers, but
	// is used internally to short-circuit resolution when a caller asked
	// for redirect-following to be disabled.
	ErrRedirected = errors.New("entity: redirected")

	// ErrProtectionDenied means a protection rule rejected the edit.
	ErrProtectionDenied = errors.New("entity: protection denied")

	// ErrInvalidRedirect covers self-redirects, redirects to a redirect,
	// and redirect cycles — anything beyond a single hop.
	ErrInvalidRedirect = errors.New("entity: invalid redirect")

	// ErrCASConflict means a compare-and-swap on the head pointer lost a
	// race; the caller should reload and retry.
	ErrCASConflict = errors.New("entity: cas conflict")

	// ErrValidationPending means the write was accepted and durably
	// recorded but has not yet cleared validation/protection checks that
	// run asynchronously.
	ErrValidationPending = errors.New("entity: validation pending")

	// ErrTransientUnavailable covers retryable infrastructure failures:
	// timeouts, connection resets, broken circuit breakers.
	ErrTransientUnavailable = errors.New("entity: transient unavailable")

	// ErrWriteFailed is returned when storing a revision's snapshot fails;
	// the write stops before any metadata row or head change is made.
	ErrWriteFailed = errors.New("entity: write failed")
)

// IsCASFailed reports whether err is or wraps ErrCASConflict, meaning the
// caller raced another writer on the head pointer and should reload and
// retry rather than surface the error to its own caller.
func IsCASFailed(err error) bool {
	return errors.Is(err, ErrCASConflict)
}

// IsGone reports whether err is or wraps ErrGone.
func IsGone(err error) bool {
	return errors.Is(err, ErrGone)
}

// IsProtectionDenied reports whether err is or wraps ErrProtectionDenied.
func IsProtectionDenied(err error) bool {
	return errors.Is(err, ErrProtectionDenied)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is or wraps ErrTransientUnavailable,
// the signal that a caller may retry the whole operation after backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientUnavailable)
}
