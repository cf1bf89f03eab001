package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/domain"
)

// NewMinioClient builds a MinIO SDK client from the object-store settings.
func NewMinioClient(cfg config.S3StorageConfig) (*minio.Client, error) {
	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if scheme, host, ok := strings.Cut(endpoint, "://"); ok {
		endpoint = host
		secure = scheme == "https"
	}

	opts := &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	}
	if cfg.UsePathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("unable to create MinIO client: %v", err), endpoint)
	}
	return client, nil
}

// MinioMedium is the object-store medium implemented with the MinIO SDK.
// It produces the same locators as S3Medium, so either SDK can read
// payloads written by the other.
type MinioMedium struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewMinioMedium creates an object-store medium and makes sure the bucket exists.
func NewMinioMedium(ctx context.Context, client *minio.Client, bucket, region string, logger zerolog.Logger) (*MinioMedium, error) {
	if bucket == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, "object storage requires a bucket", "")
	}

	m := &MinioMedium{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("medium", "minio").Str("bucket", bucket).Logger(),
	}

	if err := m.ensureBucket(ctx, region); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinioMedium) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("bucket check failed: %v", err), m.bucket)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("bucket creation failed: %v", err), m.bucket)
	}

	m.logger.Info().Msg("created bucket")
	return nil
}

// Kind returns domain.StorageKindObjectStore.
func (m *MinioMedium) Kind() domain.StorageKind {
	return domain.StorageKindObjectStore
}

// Persist uploads the payload unless an object with the same key exists.
func (m *MinioMedium) Persist(ctx context.Context, objectID string, data []byte) (string, error) {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	opts.SetMatchETagExcept("*")

	_, err := m.client.PutObject(ctx, m.bucket, objectID, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "PreconditionFailed" {
			return S3Locator(m.bucket, objectID), domain.NewDomainError(domain.ErrObjectAlreadyExists, "object exists in bucket", objectID)
		}
		return "", fmt.Errorf("%w: put %s: %w", domain.ErrStorageFailure, S3Locator(m.bucket, objectID), err)
	}

	return S3Locator(m.bucket, objectID), nil
}

// Fetch downloads the object named by locator.
func (m *MinioMedium) Fetch(ctx context.Context, objectID, locator string) ([]byte, error) {
	bucket, key, err := m.resolve(objectID, locator)
	if err != nil {
		return nil, err
	}

	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.mapReadError(err, objectID, "get", bucket, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.mapReadError(err, objectID, "read", bucket, key)
	}
	return data, nil
}

// Discard removes the object. Like S3, MinIO does not report absent keys.
func (m *MinioMedium) Discard(ctx context.Context, objectID, locator string) error {
	bucket, key, err := m.resolve(objectID, locator)
	if err != nil {
		return err
	}

	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.mapReadError(err, objectID, "delete", bucket, key)
	}
	return nil
}

// Enumerate lists every object in the configured bucket.
func (m *MinioMedium) Enumerate(ctx context.Context, fn func(StoredPayload) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("%w: list %s%s: %w", domain.ErrStorageFailure, LocatorScheme, m.bucket, info.Err)
		}
		if err := fn(StoredPayload{
			ObjectID: info.Key,
			Locator:  S3Locator(m.bucket, info.Key),
			Size:     info.Size,
			ModTime:  info.LastModified,
		}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (m *MinioMedium) resolve(objectID, locator string) (string, string, error) {
	if locator == "" {
		return m.bucket, objectID, nil
	}

	bucket, key, ok := ParseS3Locator(locator)
	if !ok {
		return "", "", domain.NewDomainError(domain.ErrObjectNotFound, "malformed object locator", objectID)
	}
	return bucket, key, nil
}

func (m *MinioMedium) mapReadError(err error, objectID, op, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return domain.NewDomainError(domain.ErrObjectNotFound, "no such key", objectID)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrStorageFailure, op, S3Locator(bucket, key), err)
}

// Ensure MinioMedium implements the medium interfaces.
var (
	_ Medium     = (*MinioMedium)(nil)
	_ Discarder  = (*MinioMedium)(nil)
	_ Enumerator = (*MinioMedium)(nil)
)
