package store

import (
	"github.com/xtxerr/podwatch/internal/errors"
)

var (
	ErrNotFound    = errors.ErrNotFound
	ErrStoreClosed = errors.ErrStoreClosed
)

// persist wraps a database error as a persistence failure for op.
func persist(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreClosed) || errors.Is(err, ErrNotFound) {
		return err
	}
	return errors.NewPersistence(op, err)
}
