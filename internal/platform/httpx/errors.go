// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/vma-portal/portal/internal/shared"
)

// StatusFor maps the portal error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrNotEditable), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrUpstream):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a plain-text response. Unclassified errors get a generic body.
func Error(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusInternalServerError:
		Text(w, status, http.StatusText(status))
	case http.StatusForbidden:
		if errors.Is(err, shared.ErrUnauthenticated) {
			Text(w, status, "Not signed in")
			return
		}
		Text(w, status, "Forbidden")
	case http.StatusNotFound:
		Text(w, status, "Not found")
	default:
		Text(w, status, err.Error())
	}
}
