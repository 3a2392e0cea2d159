package service

import (
	"context"
	"errors"
	"fmt"

	"agentledger/internal/infrastructure/lock"
	"agentledger/internal/repository"
)

// Error taxonomy. Every error returned by the services wraps exactly one of
// these, so callers branch with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConcurrency     = errors.New("concurrent update, retry the operation")
	ErrNegativeBalance = errors.New("negative balance not allowed")
	ErrStorage         = errors.New("storage failure")
)

// IsRetryable reports whether the caller may retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify maps repository and lock errors into the taxonomy. Errors that
// already carry a taxonomy sentinel pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConcurrency),
		errors.Is(err, ErrNegativeBalance),
		errors.Is(err, ErrStorage):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, repository.ErrShopNotFound),
		errors.Is(err, repository.ErrProviderNotFound),
		errors.Is(err, repository.ErrSuperAgentNotFound),
		errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrFloatMovementNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrNegativeBalance):
		return fmt.Errorf("%w: %w", ErrNegativeBalance, err)
	case errors.Is(err, repository.ErrOptimisticLock), errors.Is(err, lock.ErrLockTimeout):
		return fmt.Errorf("%w: %w", ErrConcurrency, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}
