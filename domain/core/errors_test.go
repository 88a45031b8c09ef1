package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorConstructorsWrapSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", NewConfigurationError("bad field %s", "radius"), ErrConfiguration},
		{"geometry", NewGeometryError("grids differ"), ErrGeometry},
		{"insufficient data", NewInsufficientDataError("censoring", 10, 50), ErrInsufficientData},
		{"numerical", NewNumericalInstabilityError("precision", "singular"), ErrNumericalInstability},
		{"empty region", NewEmptyRegionError("PCC", "no voxels"), ErrEmptyRegion},
		{"not found", NewNotFoundError("events file", "task-rest"), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
		})
	}
}

func TestInsufficientDataErrorMessage(t *testing.T) {
	err := NewInsufficientDataError("motion-threshold censoring", 10, 50)
	msg := err.Error()
	// the retained count and the floor both appear, in that order
	want := "10 < 50"
	if !strings.Contains(msg, want) {
		t.Errorf("message %q does not contain %q", msg, want)
	}
	if !strings.Contains(msg, "motion-threshold censoring") {
		t.Errorf("message %q does not name the criterion", msg)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"configuration", NewConfigurationError("x"), FailureConfiguration},
		{"geometry", NewGeometryError("x"), FailureGeometry},
		{"insufficient", NewInsufficientDataError("censoring", 1, 2), FailureInsufficientData},
		{"numerical", NewNumericalInstabilityError("precision", "x"), FailureNumerical},
		{"empty region", NewEmptyRegionError("r", "x"), FailureEmptyRegion},
		{"wrapped configuration", fmt.Errorf("outer: %w", NewConfigurationError("inner")), FailureConfiguration},
		{"plain io error", errors.New("open failed"), FailureIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifierHelpers(t *testing.T) {
	if !IsConfigurationError(NewConfigurationError("x")) {
		t.Error("IsConfigurationError failed on its own constructor")
	}
	if IsConfigurationError(NewGeometryError("x")) {
		t.Error("IsConfigurationError matched a geometry error")
	}
	if !IsEmptyRegionError(NewEmptyRegionError("r", "x")) {
		t.Error("IsEmptyRegionError failed on its own constructor")
	}
	if !IsNumericalInstabilityError(NewNumericalInstabilityError("precision", "x")) {
		t.Error("IsNumericalInstabilityError failed on its own constructor")
	}
	if !IsInsufficientDataError(NewInsufficientDataError("c", 1, 2)) {
		t.Error("IsInsufficientDataError failed on its own constructor")
	}
	if !IsGeometryError(NewGeometryError("x")) {
		t.Error("IsGeometryError failed on its own constructor")
	}
}
