package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates the request carries no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the caller is authenticated but lacks the role or ownership.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNotEditable indicates a mutation outside the edit window or on a frozen record.
	ErrNotEditable = errors.New("not editable")
	// ErrConflict indicates a uniqueness violation or a competing state transition.
	ErrConflict = errors.New("conflict")
	// ErrUpstream indicates a store, storage or renderer call failed.
	ErrUpstream = errors.New("upstream failure")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

type upstreamError struct {
	op  string
	err error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *upstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.err}
}

// Upstream wraps a collaborator failure so it matches both ErrUpstream and err.
// Errors already classified by the taxonomy are returned unchanged.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &upstreamError{op: op, err: err}
}

// Classified reports whether err already belongs to the error taxonomy.
func Classified(err error) bool {
	for _, target := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrNotEditable, ErrConflict, ErrUpstream, ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
