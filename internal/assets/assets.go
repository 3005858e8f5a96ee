// Package assets stores marketing content images in MinIO (or any S3
// compatible store).
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sircharge/admin/internal/util"
)

// MaxSize is the largest accepted upload in bytes.
const MaxSize = 5 << 20

const DefaultURLTTL = time.Hour

var (
	ErrDisabled        = errors.New("asset storage is not configured")
	ErrTooLarge        = fmt.Errorf("image exceeds %d bytes", MaxSize)
	ErrEmpty           = errors.New("image is empty")
	ErrUnsupportedType = errors.New("unsupported image type")
)

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/gif":     ".gif",
	"image/svg+xml": ".svg",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectClient is the subset of *minio.Client the store uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// Store uploads and serves images. The zero value and a nil *Store are
// disabled and return ErrDisabled.
type Store struct {
	client objectClient
	bucket string
}

// New connects to MinIO and makes sure the bucket exists. An empty endpoint
// returns a disabled store and no error.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return &Store{}, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &Store{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Enabled reports whether uploads are possible.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// NormalizeContentType strips parameters and lowercases the media type.
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// Validate checks the content type against the allowlist and the size limit.
func Validate(contentType string, size int64) error {
	if _, ok := extensions[NormalizeContentType(contentType)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if size <= 0 {
		return ErrEmpty
	}
	if size > MaxSize {
		return ErrTooLarge
	}
	return nil
}

// ObjectKey builds a fresh key for an image of a content block.
func ObjectKey(contentID, contentType string) string {
	ext := extensions[NormalizeContentType(contentType)]
	return path.Join("content", contentID, util.NewID("img")+ext)
}

// Upload validates and stores an image under key.
func (s *Store) Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := Validate(contentType, size); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, io.LimitReader(r, size), size, minio.PutObjectOptions{
		ContentType:  NormalizeContentType(contentType),
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PresignedURL returns a time limited GET URL for key. A non-positive ttl
// uses DefaultURLTTL.
func (s *Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}
