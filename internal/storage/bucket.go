// Package storage stores generated report documents and issues time-limited links to them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/vma-portal/portal/internal/shared"
)

// UploadOptions configures a single object write.
type UploadOptions struct {
	ContentType string
	// Overwrite replaces an existing object. When false an existing object yields ErrObjectExists.
	Overwrite bool
}

// Bucket stores objects and signs short-lived download links for them.
type Bucket interface {
	Upload(ctx context.Context, objectPath string, data []byte, opts UploadOptions) error
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

var (
	// ErrObjectExists indicates a non-overwriting upload found an existing object.
	ErrObjectExists = fmt.Errorf("storage: object already exists: %w", shared.ErrConflict)
	// ErrObjectNotFound indicates the referenced object is missing.
	ErrObjectNotFound = fmt.Errorf("storage: object %w", shared.ErrNotFound)
	// ErrInvalidPath indicates an object path that escapes the bucket or is empty.
	ErrInvalidPath = errors.New("storage: invalid object path")
)

// CleanPath normalises an object path and rejects absolute or parent-relative paths.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}
