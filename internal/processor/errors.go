package processor

import (
	"errors"
	"fmt"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/geometry"
)

var (
	ErrInvalidGeometry  = geometry.ErrInvalidGeometry
	ErrInvalidDateRange = errors.New("end date is before start date")
	ErrMerge            = errors.New("error while merging results in the analytics datacube")
	ErrSerialization    = errors.New("error while writing the datacube store")
	ErrUpload           = errors.New("error while uploading the datacube")
)

// PhaseError reports the pipeline state that could not be reached.
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase.verb(), e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
