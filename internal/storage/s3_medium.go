package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/domain"
)

// LocatorScheme prefixes object-store locators: s3://<bucket>/<object_id>.
const LocatorScheme = "s3://"

// S3API is the subset of the S3 client used by S3Medium.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client builds an AWS SDK client from the object-store settings.
// Static credentials are used when both keys are set; otherwise the
// default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.S3StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("unable to load AWS SDK config: %v", err), "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return client, nil
}

// endpointURL adds a scheme to a bare host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// S3Medium stores payloads as objects in an S3-compatible bucket,
// keyed by object ID.
type S3Medium struct {
	client S3API
	bucket string
	logger zerolog.Logger
}

// NewS3Medium creates an object-store medium and makes sure the bucket exists,
// creating it when absent.
func NewS3Medium(ctx context.Context, client S3API, bucket, region string, logger zerolog.Logger) (*S3Medium, error) {
	if bucket == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, "object storage requires a bucket", "")
	}

	m := &S3Medium{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("medium", "s3").Str("bucket", bucket).Logger(),
	}

	if err := m.ensureBucket(ctx, region); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *S3Medium) ensureBucket(ctx context.Context, region string) error {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)})
	if err == nil {
		return nil
	}
	if !isS3NotFound(err) {
		return domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("bucket check failed: %v", err), m.bucket)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(m.bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	if _, err := m.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("bucket creation failed: %v", err), m.bucket)
	}

	m.logger.Info().Msg("created bucket")
	return nil
}

// Bucket returns the configured bucket name.
func (m *S3Medium) Bucket() string {
	return m.bucket
}

// Kind returns domain.StorageKindObjectStore.
func (m *S3Medium) Kind() domain.StorageKind {
	return domain.StorageKindObjectStore
}

// Persist uploads the payload with If-None-Match: * so an existing object
// is never replaced.
func (m *S3Medium) Persist(ctx context.Context, objectID string, data []byte) (string, error) {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(objectID),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isS3PreconditionFailed(err) {
			return S3Locator(m.bucket, objectID), domain.NewDomainError(domain.ErrObjectAlreadyExists, "object exists in bucket", objectID)
		}
		return "", fmt.Errorf("%w: put %s: %w", domain.ErrStorageFailure, S3Locator(m.bucket, objectID), err)
	}

	return S3Locator(m.bucket, objectID), nil
}

// Fetch downloads the object named by locator.
// An empty locator falls back to the configured bucket.
func (m *S3Medium) Fetch(ctx context.Context, objectID, locator string) ([]byte, error) {
	bucket, key, err := m.resolve(objectID, locator)
	if err != nil {
		return nil, err
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, domain.NewDomainError(domain.ErrObjectNotFound, "no such key", objectID)
		}
		return nil, fmt.Errorf("%w: get %s: %w", domain.ErrStorageFailure, S3Locator(bucket, key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStorageFailure, S3Locator(bucket, key), err)
	}

	return data, nil
}

// Discard deletes the object. S3 deletes are idempotent, so an absent
// object is not reported.
func (m *S3Medium) Discard(ctx context.Context, objectID, locator string) error {
	bucket, key, err := m.resolve(objectID, locator)
	if err != nil {
		return err
	}

	_, err = m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return domain.NewDomainError(domain.ErrObjectNotFound, "no such key", objectID)
		}
		return fmt.Errorf("%w: delete %s: %w", domain.ErrStorageFailure, S3Locator(bucket, key), err)
	}
	return nil
}

// Enumerate lists every object in the configured bucket.
func (m *S3Medium) Enumerate(ctx context.Context, fn func(StoredPayload) error) error {
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list %s%s: %w", domain.ErrStorageFailure, LocatorScheme, m.bucket, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if err := fn(StoredPayload{
				ObjectID: key,
				Locator:  S3Locator(m.bucket, key),
				Size:     aws.ToInt64(obj.Size),
				ModTime:  aws.ToTime(obj.LastModified),
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolve returns the bucket and key a locator points at.
func (m *S3Medium) resolve(objectID, locator string) (string, string, error) {
	if locator == "" {
		return m.bucket, objectID, nil
	}

	bucket, key, ok := ParseS3Locator(locator)
	if !ok {
		return "", "", domain.NewDomainError(domain.ErrObjectNotFound, "malformed object locator", objectID)
	}
	return bucket, key, nil
}

// S3Locator formats the locator for key in bucket.
func S3Locator(bucket, key string) string {
	return LocatorScheme + bucket + "/" + key
}

// ParseS3Locator splits an s3://<bucket>/<key> locator.
func ParseS3Locator(locator string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(locator, LocatorScheme)
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// isS3NotFound reports whether err means the key or bucket does not exist.
// S3-compatible servers are not consistent about typed errors, so the
// generic API error code is checked as well.
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// isS3PreconditionFailed reports whether a conditional write lost to an existing object.
func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// Ensure S3Medium implements the medium interfaces.
var (
	_ Medium     = (*S3Medium)(nil)
	_ Discarder  = (*S3Medium)(nil)
	_ Enumerator = (*S3Medium)(nil)
	_ S3API      = (*s3.Client)(nil)
)
