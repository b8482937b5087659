package types

import (
	"errors"
	"fmt"
)

var (
	ErrNoContent         = errors.New("no content acquired from any source")
	ErrModelUnavailable  = errors.New("embedding model unavailable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDuplicateID       = errors.New("duplicate entry id")
	ErrMetricMismatch    = errors.New("similarity metric differs from collection")
	ErrInvalidChunking   = errors.New("invalid chunking parameters")
)

// AcquisitionError records a source that produced no text. It is recoverable:
// ingestion logs it and moves on to the next source.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquiring %s: empty content", e.Source)
	}
	return fmt.Sprintf("acquiring %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// DuplicateIDError names the colliding id.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDuplicateID, e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}
