package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"kvartal/market/internal/apperr"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// ShouldRetry decides whether an error is worth another attempt.
type ShouldRetry func(err error) bool

const DefaultMaxRetries = 3

// Try executes an operation with default retry settings for duplicate key errors.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsMongoDuplicateKeyError)
}

// TryRead executes a pure read once, retrying a single time if the storage
// deadline was exceeded. Writes must not go through this: one retry is only
// safe for side-effect-free operations.
func TryRead(op Operation) error {
	return WithRetries(op, 1, IsTimeoutError)
}

// WithRetries executes an operation up to 1+maxRetries times, retrying only
// when shouldRetry approves of the failure.
func WithRetries(op Operation, maxRetries int, shouldRetry ShouldRetry) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if shouldRetry(err) {
			time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond) // Simple incremental backoff
		} else {
			return err
		}
	}
	return err
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, writeError := range bwe.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// IsTimeoutError checks if an error represents a storage deadline being
// exceeded, either at the driver or at the context level.
func IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return mongo.IsTimeout(err)
}

// Translate maps raw storage faults into the error taxonomy. resource names
// what was being looked up; it ends up in NotFound messages.
func Translate(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return apperr.NotFound("%s not found", resource)
	case IsMongoDuplicateKeyError(err):
		return apperr.Conflict("%s already exists", resource)
	case IsTimeoutError(err):
		return apperr.Timeout("storage deadline exceeded while accessing %s", resource)
	default:
		return err
	}
}
