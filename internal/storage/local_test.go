package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/shared"
)

func newLocal(t *testing.T) (*LocalBucket, *time.Time) {
	t.Helper()
	b, err := NewLocalBucket(t.TempDir(), "http://portal.test", "signing-secret")
	require.NoError(t, err)
	now := time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)
	b.WithNow(func() time.Time { return now })
	return b, &now
}

func TestLocalUploadOverwrite(t *testing.T) {
	b, _ := newLocal(t)
	ctx := context.Background()
	opts := UploadOptions{ContentType: "application/pdf", Overwrite: true}

	require.NoError(t, b.Upload(ctx, "reports/2024-05.pdf", []byte("first"), opts))
	require.NoError(t, b.Upload(ctx, "reports/2024-05.pdf", []byte("second"), opts))

	data, err := os.ReadFile(filepath.Join(b.root, "reports", "2024-05.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	err = b.Upload(ctx, "reports/2024-05.pdf", []byte("third"), UploadOptions{})
	assert.ErrorIs(t, err, shared.ErrConflict)

	entries, err := os.ReadDir(filepath.Join(b.root, "reports"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	b, _ := newLocal(t)
	for _, p := range []string{"", "/etc/passwd", "../secret", "reports/../../x", `reports\x.pdf`} {
		err := b.Upload(context.Background(), p, []byte("x"), UploadOptions{Overwrite: true})
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestLocalSignedURLRoundTrip(t *testing.T) {
	b, now := newLocal(t)
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "reports/2024-05.pdf", []byte("%PDF"), UploadOptions{Overwrite: true}))

	link, err := b.SignedURL(ctx, "reports/2024-05.pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "http://portal.test/files/reports/2024-05.pdf?"))

	u, err := url.Parse(link)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF", rec.Body.String())
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))

	tampered := strings.Replace(u.RequestURI(), "2024-05", "2024-04", 1)
	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tampered, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	*now = now.Add(2 * time.Minute)
	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLocalSignedURLMissingObject(t *testing.T) {
	b, _ := newLocal(t)
	_, err := b.SignedURL(context.Background(), "reports/2030-01.pdf", time.Minute)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
