package bulksync

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest wraps every validation failure of a Request.
	ErrInvalidRequest = errors.New("invalid sync request")

	// ErrFatal marks errors that must abort the whole run rather than fail
	// a single item.
	ErrFatal = errors.New("sync aborted")

	// ErrUnavailable marks errors caused by the provider or the entity store
	// being unreachable. A run of them escalates to ErrFatal.
	ErrUnavailable = errors.New("collaborator unavailable")

	// ErrCancelled is reported when a cancel request stops a run.
	ErrCancelled = errors.New("sync cancelled by request")

	// ErrRecordNotFound is returned when no progress record exists for a key.
	ErrRecordNotFound = errors.New("progress record not found")
)

// Fatal marks err as an orchestration-level failure.
func Fatal(err error) error {
	if err == nil || errors.Is(err, ErrFatal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Unavailable marks err as a connectivity failure of a collaborator.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
