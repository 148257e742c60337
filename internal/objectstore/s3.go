package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3-compatible store.
type S3Options struct {
	Endpoint      string
	Bucket        string
	Region        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// S3Store uploads objects with minio-go.
type S3Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewS3Store builds a client for opts. No network call is made.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 store requires endpoint and bucket")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Store{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

func (s *S3Store) Name() string { return "s3" }

// Check verifies the bucket is reachable.
func (s *S3Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, localPath, key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(filepath.Ext(localPath))}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	if _, err := s.client.FPutObject(ctx, s.bucket, cleaned, localPath, opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", cleaned, err)
	}
	return s.objectURL(cleaned), nil
}

func (s *S3Store) Get(ctx context.Context, remoteURL, localPath string) error {
	key, err := s.keyFromURL(remoteURL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s: %w", remoteURL, err)
	}
	return nil
}

func (s *S3Store) objectURL(key string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return "s3://" + path.Join(s.bucket, key)
}

func (s *S3Store) keyFromURL(remoteURL string) (string, error) {
	if s.publicBase != "" && strings.HasPrefix(remoteURL, s.publicBase+"/") {
		return cleanKey(strings.TrimPrefix(remoteURL, s.publicBase+"/"))
	}
	u, err := url.Parse(remoteURL)
	if err != nil || u.Scheme != "s3" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedURL, remoteURL)
	}
	if u.Host != s.bucket {
		return "", fmt.Errorf("%w: bucket %s is not %s", ErrUnsupportedURL, u.Host, s.bucket)
	}
	return cleanKey(u.Path)
}
