package ports

import (
	"context"

	"connectomix/domain/region"
	"connectomix/domain/series"
)

// TableReaderPort loads the tabular sidecars of a functional run
type TableReaderPort interface {
	// ReadConfounds loads a confound table. Cells that do not parse as
	// finite numbers (the n/a leaders of derivative columns) read as zero.
	ReadConfounds(ctx context.Context, path string) (*series.ConfoundTable, error)

	// ReadEvents loads a task events table
	ReadEvents(ctx context.Context, path string) (*series.EventTable, error)

	// ReadSeeds loads a seed list with sanitized, unique names
	ReadSeeds(ctx context.Context, path string, radius float64) ([]region.Seed, error)

	// ReadAtlasLabels loads a label value to region name table
	ReadAtlasLabels(ctx context.Context, path string) (map[int]string, error)
}

// TableWriterPort persists derived tabular artifacts
type TableWriterPort interface {
	WriteTimeSeries(ctx context.Context, path string, m *series.TimeSeriesMatrix) error
}
