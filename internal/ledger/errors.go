package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no block matches a record id or index.
	ErrNotFound = errors.New("ledger: no block found for this identifier")

	// ErrConflict is returned by a Store when the index being inserted is no
	// longer the chain tail + 1.
	ErrConflict = errors.New("ledger: append conflict")
)

// StorageError wraps a backend failure. The ledger is left unchanged when
// one is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err carries a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
