package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strconv"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultPublicBaseURL = "https://storage.googleapis.com"
	defaultCacheControl  = "public, max-age=31536000"
)

var (
	ErrBucketRequired = errors.New("storage: bucket name is required")
	ErrObjectRequired = errors.New("storage: object name is required")
)

// objectStore is the slice of a bucket handle the package uses.
type objectStore interface {
	NewWriter(ctx context.Context, object, contentType, cacheControl string) io.WriteCloser
	NewReader(ctx context.Context, object string) (io.ReadCloser, error)
}

type gcsBucket struct {
	handle *gcs.BucketHandle
}

func (b gcsBucket) NewWriter(ctx context.Context, object, contentType, cacheControl string) io.WriteCloser {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl
	return w
}

func (b gcsBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	r, err := b.handle.Object(object).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("storage: %s: %w", object, fs.ErrNotExist)
	}
	return r, err
}

// BucketUploader writes rendered plate images to one bucket and derives their
// public URLs.
type BucketUploader struct {
	store        objectStore
	bucket       string
	baseURL      string
	cacheControl string
}

type UploaderOption func(*BucketUploader)

// WithPublicBaseURL serves public URLs from a CDN host instead of storage.googleapis.com.
func WithPublicBaseURL(base string) UploaderOption {
	return func(u *BucketUploader) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			u.baseURL = base
		}
	}
}

func WithCacheControl(value string) UploaderOption {
	return func(u *BucketUploader) {
		if value = strings.TrimSpace(value); value != "" {
			u.cacheControl = value
		}
	}
}

func NewBucketUploader(client *gcs.Client, bucket string, opts ...UploaderOption) (*BucketUploader, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newBucketUploader(gcsBucket{handle: client.Bucket(strings.TrimSpace(bucket))}, bucket, opts...)
}

func newBucketUploader(store objectStore, bucket string, opts ...UploaderOption) (*BucketUploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	u := &BucketUploader{
		store:        store,
		bucket:       bucket,
		baseURL:      defaultPublicBaseURL,
		cacheControl: defaultCacheControl,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// Upload writes data to object, replacing any existing object.
func (u *BucketUploader) Upload(ctx context.Context, object string, data []byte, contentType string) error {
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return ErrObjectRequired
	}
	w := u.store.NewWriter(ctx, object, contentType, u.cacheControl)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write gs://%s/%s: %w", u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// PublicURL returns the unauthenticated URL for object.
func (u *BucketUploader) PublicURL(object string) string {
	escaped := (&url.URL{Path: strings.TrimPrefix(object, "/")}).EscapedPath()
	return u.baseURL + "/" + u.bucket + "/" + escaped
}

// VersionedURL appends v=version to rawURL so CDNs treat it as a new object.
func VersionedURL(rawURL string, version int64) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "v=" + strconv.FormatInt(version, 10)
}

// PlateImagePath is the object name for a plate record's image.
func PlateImagePath(folder, id, ext string) string {
	name := strings.TrimSpace(id) + "." + strings.TrimPrefix(strings.TrimSpace(ext), ".")
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

// BucketSource reads render assets (fonts, templates) from a bucket prefix.
// Missing objects wrap fs.ErrNotExist.
type BucketSource struct {
	store  objectStore
	prefix string
}

func NewBucketSource(client *gcs.Client, bucket, prefix string) (*BucketSource, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, ErrBucketRequired
	}
	return &BucketSource{
		store:  gcsBucket{handle: client.Bucket(strings.TrimSpace(bucket))},
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

func (s *BucketSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	object := strings.TrimPrefix(name, "/")
	if s.prefix != "" {
		object = s.prefix + "/" + object
	}
	r, err := s.store.NewReader(ctx, object)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
