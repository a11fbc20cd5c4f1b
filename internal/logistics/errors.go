package logistics

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the family of not-found errors returned by stores.
	ErrNotFound = errors.New("record not found")
	// ErrOrderNotFound indicates an unknown order id.
	ErrOrderNotFound = fmt.Errorf("order: %w", ErrNotFound)
	// ErrBatchNotFound indicates an unknown batch id.
	ErrBatchNotFound = fmt.Errorf("batch: %w", ErrNotFound)
	// ErrWarehouseNotFound indicates an unknown warehouse id.
	ErrWarehouseNotFound = fmt.Errorf("warehouse: %w", ErrNotFound)

	ErrInvalidItem       = errors.New("invalid order item")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrUnknownBatchType  = errors.New("unknown batch type")
	ErrNotEstimable      = errors.New("order cannot be estimated in current status")
)

// ParseError describes a dimensions string that is not three positive
// numbers separated by "x".
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse dimensions %q: %s", e.Input, e.Reason)
}

// Unwrap lets callers match ErrInvalidDimensions.
func (e *ParseError) Unwrap() error {
	return ErrInvalidDimensions
}

// UnknownBatchTypeError is a configuration error: a stage was configured
// with a batch type the pipeline does not know.
type UnknownBatchTypeError struct {
	Type BatchType
}

func (e *UnknownBatchTypeError) Error() string {
	return fmt.Sprintf("unknown batch type %q", string(e.Type))
}

// Unwrap lets callers match ErrUnknownBatchType.
func (e *UnknownBatchTypeError) Unwrap() error {
	return ErrUnknownBatchType
}
