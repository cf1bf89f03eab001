package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/repository"
)

// Dependencies carries the collaborators a medium may need.
type Dependencies struct {
	// BlobData backs the database medium.
	BlobData repository.BlobDataRepository

	// S3Client overrides the AWS client built from configuration.
	S3Client S3API

	Logger zerolog.Logger
}

// NewMedium constructs the medium selected by cfg.Backend. It runs once at
// startup; an unrecognized backend returns domain.ErrUnknownStorageKind and
// an unusable one returns domain.ErrInvalidConfiguration.
func NewMedium(ctx context.Context, cfg config.StorageConfig, deps Dependencies) (Medium, error) {
	kind, err := domain.ParseStorageKind(cfg.Backend)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger.With().Str("storage_kind", kind.String()).Logger()

	var medium Medium
	switch kind {
	case domain.StorageKindLocal:
		medium, err = NewLocalMedium(cfg.DataDir)

	case domain.StorageKindDatabase:
		if deps.BlobData == nil {
			return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, "database storage requires a blob_data repository", "")
		}
		medium = NewDatabaseMedium(deps.BlobData)

	case domain.StorageKindObjectStore:
		medium, err = newObjectStoreMedium(ctx, cfg.S3, deps, logger)

	default:
		return nil, domain.NewDomainError(domain.ErrUnknownStorageKind, "no medium registered", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("storage medium initialized")
	return medium, nil
}

func newObjectStoreMedium(ctx context.Context, cfg config.S3StorageConfig, deps Dependencies, logger zerolog.Logger) (Medium, error) {
	switch cfg.SDK {
	case "", config.S3SDKAWS:
		client := deps.S3Client
		if client == nil {
			c, err := NewS3Client(ctx, cfg)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return NewS3Medium(ctx, client, cfg.Bucket, cfg.Region, logger)

	case config.S3SDKMinio:
		client, err := NewMinioClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewMinioMedium(ctx, client, cfg.Bucket, cfg.Region, logger)

	default:
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, fmt.Sprintf("unknown s3 sdk %q", cfg.SDK), "")
	}
}
