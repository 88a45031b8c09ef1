package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions.
//
// The five classes carry different blast radii:
//   - ErrConfiguration aborts the invocation before any per-subject work
//     where it is statically detectable.
//   - ErrGeometry and ErrInsufficientData fail the affected subject-run only.
//   - ErrNumericalInstability fails the affected measure only.
//   - ErrEmptyRegion fails the affected region only; the run is marked
//     partially failed.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrGeometry             = errors.New("geometry mismatch")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrNumericalInstability = errors.New("numerical instability")
	ErrEmptyRegion          = errors.New("empty region")

	ErrNotFound = errors.New("resource not found")
)

// Error constructors with context

func NewConfigurationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func NewGeometryError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrGeometry, fmt.Sprintf(format, args...))
}

// NewInsufficientDataError reports a retained-volume count below a floor,
// naming the criterion responsible so the message can be surfaced verbatim.
func NewInsufficientDataError(criterion string, retained, floor int) error {
	return fmt.Errorf("%w: %d < %d volumes retained after %s",
		ErrInsufficientData, retained, floor, criterion)
}

func NewNumericalInstabilityError(measure string, cause string) error {
	return fmt.Errorf("%w: measure %s: %s", ErrNumericalInstability, measure, cause)
}

func NewEmptyRegionError(region string, cause string) error {
	return fmt.Errorf("%w: region %q: %s", ErrEmptyRegion, region, cause)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsGeometryError(err error) bool {
	return errors.Is(err, ErrGeometry)
}

func IsInsufficientDataError(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

func IsNumericalInstabilityError(err error) bool {
	return errors.Is(err, ErrNumericalInstability)
}

func IsEmptyRegionError(err error) bool {
	return errors.Is(err, ErrEmptyRegion)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// FailureClass labels an error class for outcome records and reports
type FailureClass string

const (
	FailureConfiguration    FailureClass = "configuration"
	FailureGeometry         FailureClass = "geometry"
	FailureInsufficientData FailureClass = "insufficient_data"
	FailureNumerical        FailureClass = "numerical_instability"
	FailureEmptyRegion      FailureClass = "empty_region"
	FailureIO               FailureClass = "io"
)

// ClassifyError maps an error onto its failure class. Errors outside the
// taxonomy (read failures, malformed files) are classed as io.
func ClassifyError(err error) FailureClass {
	switch {
	case IsConfigurationError(err):
		return FailureConfiguration
	case IsGeometryError(err):
		return FailureGeometry
	case IsInsufficientDataError(err):
		return FailureInsufficientData
	case IsNumericalInstabilityError(err):
		return FailureNumerical
	case IsEmptyRegionError(err):
		return FailureEmptyRegion
	default:
		return FailureIO
	}
}
