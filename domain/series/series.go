package series

import (
	"connectomix/domain/core"

	"gonum.org/v1/gonum/mat"
)

// TimeSeriesMatrix holds one extracted signal per region: timepoints on
// rows, regions on columns. Names has one entry per column.
type TimeSeriesMatrix struct {
	Names []string
	Data  *mat.Dense
}

// NewTimeSeriesMatrix wraps a timepoints x regions matrix with its
// column names
func NewTimeSeriesMatrix(names []string, data *mat.Dense) (*TimeSeriesMatrix, error) {
	_, cols := data.Dims()
	if cols != len(names) {
		return nil, core.NewConfigurationError("time series has %d columns but %d names", cols, len(names))
	}
	return &TimeSeriesMatrix{Names: names, Data: data}, nil
}

// NumTimepoints returns the row count
func (m *TimeSeriesMatrix) NumTimepoints() int {
	rows, _ := m.Data.Dims()
	return rows
}

// NumRegions returns the column count
func (m *TimeSeriesMatrix) NumRegions() int {
	_, cols := m.Data.Dims()
	return cols
}

// Column copies the time course of region j
func (m *TimeSeriesMatrix) Column(j int) []float64 {
	rows, _ := m.Data.Dims()
	out := make([]float64, rows)
	mat.Col(out, j, m.Data)
	return out
}

// Retain returns a new matrix containing only the rows the mask keeps.
// The mask length must equal the current timepoint count.
func (m *TimeSeriesMatrix) Retain(mask CensorMask) (*TimeSeriesMatrix, error) {
	rows, cols := m.Data.Dims()
	if mask.Len() != rows {
		return nil, core.NewConfigurationError("censor mask length %d does not match %d timepoints", mask.Len(), rows)
	}
	kept := mask.RetainedIndices()
	if len(kept) == 0 {
		return nil, core.NewInsufficientDataError("censoring", 0, 1)
	}
	out := mat.NewDense(len(kept), cols, nil)
	for r, src := range kept {
		out.SetRow(r, m.Data.RawRowView(src))
	}
	return &TimeSeriesMatrix{Names: m.Names, Data: out}, nil
}
