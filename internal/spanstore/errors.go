package spanstore

import (
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/grpc/codes"
)

var (
	// ErrRowNotFound is returned when an update or delete matches no row.
	ErrRowNotFound = errors.New("row not found")

	// ErrDuplicateKey is returned when an insert collides with an existing row.
	ErrDuplicateKey = errors.New("duplicate key")
)

// classify maps Spanner status codes onto the package sentinels so callers
// can test with errors.Is regardless of backend.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch spanner.ErrCode(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrRowNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	}
	return err
}
