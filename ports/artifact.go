package ports

import (
	"context"

	"connectomix/domain/connectivity"
)

// MatrixWriterPort persists square connectivity estimates in a format
// numerical tooling can reload
type MatrixWriterPort interface {
	WriteMatrix(ctx context.Context, path string, m *connectivity.Matrix) error
}

// MaskReaderPort loads an externally computed volume retain vector.
// Nonzero entries mark retained volumes.
type MaskReaderPort interface {
	ReadMask(ctx context.Context, path string) ([]bool, error)
}

// SidecarWriterPort persists JSON metadata next to a data artifact
type SidecarWriterPort interface {
	WriteSidecar(ctx context.Context, path string, payload any) error
}

// WorkbookExporterPort renders a unit's connectivity matrices as a
// spreadsheet for manual review, one sheet per measure with region
// labels on both axes
type WorkbookExporterPort interface {
	ExportMatrices(ctx context.Context, path string, matrices []*connectivity.Matrix) error
}

// ReportPort renders an invocation summary as a standalone document
type ReportPort interface {
	WriteReport(ctx context.Context, path string, summary ReportData) error
}
