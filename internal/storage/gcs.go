package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSConfig identifies the bucket and optional explicit signing credentials.
type GCSConfig struct {
	Bucket string
	// AccessID and PrivateKey sign V4 URLs when the ambient credentials cannot.
	AccessID   string
	PrivateKey string
}

// GCSBucket stores reports in Google Cloud Storage.
type GCSBucket struct {
	client *storage.Client
	cfg    GCSConfig
}

// NewGCSBucket dials the storage API with application default credentials.
func NewGCSBucket(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSBucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: gcs bucket name required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &GCSBucket{client: client, cfg: cfg}, nil
}

// Close releases the underlying client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}

// Upload writes data to objectPath.
func (b *GCSBucket) Upload(ctx context.Context, objectPath string, data []byte, opts UploadOptions) error {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := b.client.Bucket(b.cfg.Bucket).Object(objectPath)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.CacheControl = "private, no-store"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: %s", ErrObjectExists, objectPath)
		}
		return fmt.Errorf("storage: close writer %s: %w", objectPath, err)
	}
	return nil
}

// SignedURL returns a V4 signed GET URL valid for ttl.
func (b *GCSBucket) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := b.client.Bucket(b.cfg.Bucket).Object(objectPath).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
		}
		return "", fmt.Errorf("storage: stat %s: %w", objectPath, err)
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	}
	if b.cfg.AccessID != "" && b.cfg.PrivateKey != "" {
		opts.GoogleAccessID = b.cfg.AccessID
		opts.PrivateKey = []byte(b.cfg.PrivateKey)
	}
	url, err := b.client.Bucket(b.cfg.Bucket).SignedURL(objectPath, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", objectPath, err)
	}
	return url, nil
}
