package bids

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"connectomix/internal/errors"
)

// Sidecar is the provenance payload written next to each artifact.
// Keys follow the CamelCase convention of BIDS metadata files.
type Sidecar struct {
	Method             string       `json:"Method"`
	ConnectivityKind   string       `json:"ConnectivityKind,omitempty"`
	RegionLabels       []string     `json:"RegionLabels,omitempty"`
	RegionCoordinates  [][3]float64 `json:"RegionCoordinatesMM,omitempty"`
	SeedRadiusMM       float64      `json:"SeedRadiusMM,omitempty"`
	OriginalVolumes    int          `json:"OriginalVolumes"`
	RetainedVolumes    int          `json:"RetainedVolumes"`
	HighPassHz         float64      `json:"HighPassHz,omitempty"`
	LowPassHz          float64      `json:"LowPassHz,omitempty"`
	ConfoundColumns    []string     `json:"ConfoundColumns,omitempty"`
	ShrinkageApplied   bool         `json:"ShrinkageApplied"`
	ShrinkageIntensity float64      `json:"ShrinkageIntensity,omitempty"`
	Atlas              string       `json:"Atlas,omitempty"`
	InvocationID       string       `json:"InvocationID"`
	ConfigHash         string       `json:"ConfigHash"`
	SoftwareVersion    string       `json:"SoftwareVersion"`
}

// SidecarWriter persists JSON metadata next to data artifacts
type SidecarWriter struct{}

// NewSidecarWriter creates a sidecar writer
func NewSidecarWriter() *SidecarWriter {
	return &SidecarWriter{}
}

// WriteSidecar writes the payload as indented JSON
func (w *SidecarWriter) WriteSidecar(ctx context.Context, path string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.WriteFailed(path, err)
	}
	return nil
}
