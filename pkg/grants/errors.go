package grants

import (
	"errors"
	"fmt"
)

var (
	// ErrGrantNotFound is returned by Revoke when no grant exists for the tuple.
	ErrGrantNotFound = errors.New("permission grant not found")

	// ErrStorageUnavailable matches every *StorageError.
	ErrStorageUnavailable = errors.New("permission store unavailable")
)

// StorageError wraps a failure to reach or use the backing database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorageUnavailable) match any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
