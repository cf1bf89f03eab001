// Package service provides the blob storage facade and background jobs.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/metrics"
)

// Operation names used in logs, spans and metrics.
const (
	OpStore    = "store"
	OpRetrieve = "retrieve"
	OpStat     = "stat"
	OpSweep    = "sweep"
)

// isCallerError reports whether err is one of the conditions callers act on.
// These pass through the facade unchanged and are not logged as failures.
func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrObjectNotFound) ||
		errors.Is(err, domain.ErrObjectAlreadyExists) ||
		errors.Is(err, domain.ErrObjectCorrupted) ||
		domain.IsInvalidInput(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// asStorageFailure marks err as domain.ErrStorageFailure unless it already is one.
func asStorageFailure(err error, op string) error {
	if errors.Is(err, domain.ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
}

// resultOf maps an operation error to a metrics result label.
func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, domain.ErrObjectNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrObjectAlreadyExists):
		return metrics.ResultConflict
	case domain.IsInvalidInput(err):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
