package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalPrefix is the route that serves signed local downloads.
const LocalPrefix = "/files/"

// LocalBucket keeps objects on disk and signs download links with HMAC-SHA256.
type LocalBucket struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocalBucket returns a bucket rooted at dir. baseURL prefixes generated links.
func NewLocalBucket(dir, baseURL, secret string) (*LocalBucket, error) {
	if secret == "" {
		return nil, errors.New("storage: local signing secret required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	return &LocalBucket{
		root:    abs,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// WithNow overrides the clock for tests.
func (b *LocalBucket) WithNow(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *LocalBucket) filename(objectPath string) (string, string, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(b.root, filepath.FromSlash(cleaned)), nil
}

// Upload writes data through a temporary file and renames it into place.
func (b *LocalBucket) Upload(_ context.Context, objectPath string, data []byte, opts UploadOptions) error {
	cleaned, name, err := b.filename(objectPath)
	if err != nil {
		return err
	}
	if !opts.Overwrite {
		if _, err := os.Stat(name); err == nil {
			return fmt.Errorf("%w: %s", ErrObjectExists, cleaned)
		}
	}
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("storage: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write %s: %w", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", cleaned, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("storage: publish %s: %w", cleaned, err)
	}
	return nil
}

// SignedURL returns a link to the object that expires after ttl.
func (b *LocalBucket) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	cleaned, name, err := b.filename(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, cleaned)
		}
		return "", fmt.Errorf("storage: stat %s: %w", cleaned, err)
	}
	expires := strconv.FormatInt(b.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", b.sign(cleaned, expires))
	return b.baseURL + LocalPrefix + cleaned + "?" + q.Encode(), nil
}

func (b *LocalBucket) sign(objectPath, expires string) string {
	mac := hmac.New(sha256.New, b.secret)
	_, _ = mac.Write([]byte(objectPath))
	_, _ = mac.Write([]byte{'\n'})
	_, _ = mac.Write([]byte(expires))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Handler serves signed links. Mount it at LocalPrefix.
func (b *LocalBucket) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		objectPath := strings.TrimPrefix(r.URL.Path, LocalPrefix)
		cleaned, name, err := b.filename(objectPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		expires := r.URL.Query().Get("expires")
		sig := r.URL.Query().Get("sig")
		deadline, err := strconv.ParseInt(expires, 10, 64)
		if err != nil || sig == "" || !hmac.Equal([]byte(sig), []byte(b.sign(cleaned, expires))) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		if b.now().Unix() > deadline {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
		f, err := os.Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "private, no-store")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(name)))
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}
