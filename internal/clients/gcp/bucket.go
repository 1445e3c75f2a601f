package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/presgrade-backend/internal/platform/logger"
)

// MediaStore holds the uploaded presentation files. The pipeline never
// streams media through this process: uploads go directly to the bucket via
// a signed PUT URL, and the transcription service reads via a signed GET URL
// or the gs:// URI.
type MediaStore interface {
	SignedUploadURL(key, contentType string, ttl time.Duration) (string, error)
	SignedDownloadURL(key string, ttl time.Duration) (string, error)
	DeleteFile(ctx context.Context, key string) error
	GCSURI(key string) string
	Close() error
}

type mediaStore struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

func NewMediaStore(log *logger.Logger) (MediaStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	serviceLog := log.With("service", "MediaStore")

	bucketName := strings.TrimSpace(os.Getenv("MEDIA_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var MEDIA_GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &mediaStore{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucketName,
	}, nil
}

func (ms *mediaStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "PUT",
		Expires: time.Now().Add(ttl),
	}
	if ct := strings.TrimSpace(contentType); ct != "" {
		opts.ContentType = ct
	}
	url, err := ms.storageClient.Bucket(ms.bucketName).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign upload url for %q: %w", key, err)
	}
	return url, nil
}

func (ms *mediaStore) SignedDownloadURL(key string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := ms.storageClient.Bucket(ms.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign download url for %q: %w", key, err)
	}
	return url, nil
}

func (ms *mediaStore) DeleteFile(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	o := ms.storageClient.Bucket(ms.bucketName).Object(key)
	if err := o.Delete(ctx); err != nil {
		return fmt.Errorf("delete GCS object %q in bucket %q: %w", key, ms.bucketName, err)
	}
	return nil
}

func (ms *mediaStore) GCSURI(key string) string {
	return fmt.Sprintf("gs://%s/%s", ms.bucketName, key)
}

func (ms *mediaStore) Close() error {
	if ms == nil || ms.storageClient == nil {
		return nil
	}
	return ms.storageClient.Close()
}
