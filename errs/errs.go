// Package errs defines the error-kind taxonomy used across ledgercore.
//
// Kinds are deliberately not a type hierarchy: every fallible operation
// returns a single *Error carrying a Kind tag plus the originating op and
// wrapped cause, so callers branch on Kind with errors.As rather than type
// switches.
package errs

import "fmt"

// Kind classifies why an operation failed.
type Kind string

const (
	// KindValidation covers bad input, referential-integrity violations,
	// deletion of the protected "Others" category, or writes against an
	// archived book. Never retried.
	KindValidation Kind = "validation"

	// KindAuthMissing means no identity is present for an operation that
	// requires one.
	KindAuthMissing Kind = "auth_missing"

	// KindAuthExpired means the identity token is stale and a refresh is
	// required before the operation can proceed.
	KindAuthExpired Kind = "auth_expired"

	// KindAuthRevoked means a forced refresh failed with a permanent auth
	// error. Forces sign-out.
	KindAuthRevoked Kind = "auth_revoked"

	// KindNetworkTransient covers connectivity failures or 5xx-class
	// responses from the cloud store, FX provider, or LLM provider.
	// Retried with back-off.
	KindNetworkTransient Kind = "network_transient"

	// KindPermissionDenied covers 403-class responses. The first
	// occurrence within a sync is treated as token-propagation lag;
	// persistent occurrences are reclassified as KindAuthRevoked by the
	// caller.
	KindPermissionDenied Kind = "permission_denied"

	// KindConflictDetected is not a true failure: the sync completed with
	// a non-empty conflict list. Carried as a Kind purely so the same
	// plumbing can report it alongside real errors where convenient.
	KindConflictDetected Kind = "conflict_detected"

	// KindIntegrity covers a cloud payload entity that fails envelope
	// validation. The entity is quarantined; the rest of the sync round
	// proceeds.
	KindIntegrity Kind = "integrity"

	// KindLLMUnavailable means the optional LLM step failed or returned
	// an unusable result. The classifier falls through to local scoring
	// silently; this Kind exists for logging/metrics, not for surfacing.
	KindLLMUnavailable Kind = "llm_unavailable"

	// KindNotFound covers a lookup against an ID that does not exist in
	// the local replica.
	KindNotFound Kind = "not_found"

	// KindTimeout covers an operation that exceeded its context deadline.
	KindTimeout Kind = "timeout"
)

// Error is the single error type returned by ledgercore operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// E constructs a new *Error. op should name the failing function
// ("entity.Store.CreateEntry"), kind classifies the failure, and err is
// the underlying cause (may be nil for pure-validation kinds).
func E(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}

// Retryable reports whether a Kind is the sort of transient failure the
// sync orchestrator should back off and retry.
func Retryable(k Kind) bool {
	return k == KindNetworkTransient || k == KindPermissionDenied
}

// Surfaced reports whether a Kind should be shown to the user rather than
// handled silently or as retry fuel.
func Surfaced(k Kind) bool {
	switch k {
	case KindValidation, KindAuthExpired, KindAuthRevoked, KindAuthMissing, KindConflictDetected:
		return true
	default:
		return false
	}
}
