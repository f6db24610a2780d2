package quadb

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/quadb/internal/encoding"
	"github.com/liliang-cn/quadb/pkg/codec"
	"github.com/liliang-cn/quadb/pkg/geom"
	"github.com/liliang-cn/quadb/pkg/kv"
	"github.com/liliang-cn/quadb/pkg/morton"
	"github.com/liliang-cn/quadb/pkg/spacetree"
)

// Error kinds. Match them with errors.Is; the returned errors carry the operation and cause.
var (
	// ErrStorage is a transaction, I/O or driver failure of the underlying store.
	ErrStorage = errors.New("storage failure")

	// ErrSerialization is an entity that failed to encode, or stored bytes that failed to decode.
	ErrSerialization = errors.New("serialization failure")

	// ErrDimensionMismatch is a position or window whose axis count differs from the index.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrOutOfDomain is a position the curve cannot represent (non-finite or outside the grid).
	ErrOutOfDomain = errors.New("position out of domain")

	// ErrInvalidArgument is a malformed query argument, such as a negative or NaN radius.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig is returned when configuration is invalid or disagrees with the database
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed is returned when trying to use a closed index
	ErrClosed = errors.New("index is closed")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("quadb: %v", e.Err)
	}
	return fmt.Sprintf("quadb: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: translateError(err)}
}

// translateError marks errors of the lower packages with the matching public kind.
func translateError(err error) error {
	switch {
	case errors.IsAny(err, ErrStorage, ErrSerialization, ErrDimensionMismatch, ErrOutOfDomain,
		ErrInvalidArgument, ErrInvalidConfig, ErrClosed):
		return err
	case errors.IsAny(err, geom.ErrDimensionMismatch, morton.ErrDimensionMismatch, spacetree.ErrDimensionMismatch):
		return errors.Mark(err, ErrDimensionMismatch)
	case errors.IsAny(err, morton.ErrOutOfDomain, spacetree.ErrInvalidPosition):
		return errors.Mark(err, ErrOutOfDomain)
	case errors.IsAny(err, encoding.ErrCorruptRecord, morton.ErrInvalidKey):
		return errors.Mark(err, ErrSerialization)
	case errors.IsAny(err, codec.ErrUnknownCodec, geom.ErrInvalidBounds, morton.ErrInvalidCurve, kv.ErrInvalidTable):
		return errors.Mark(err, ErrInvalidConfig)
	}
	return err
}

// storageError marks err as a store failure.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrStorage)
}

// serializationError marks err as an encode/decode failure.
func serializationError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrSerialization)
}
