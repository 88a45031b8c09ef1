// Package excel renders connectivity matrices as spreadsheets for
// manual review, one sheet per measure with region labels on both axes.
package excel

import (
	"context"
	"os"
	"path/filepath"

	"connectomix/domain/connectivity"
	"connectomix/internal"
	"connectomix/internal/errors"

	"github.com/xuri/excelize/v2"
)

// Exporter writes .xlsx workbooks. It satisfies the workbook exporter
// port.
type Exporter struct {
	log *internal.Logger
}

// NewExporter creates an exporter
func NewExporter(logger *internal.Logger) *Exporter {
	return &Exporter{log: logger.WithPrefix("excel")}
}

// ExportMatrices writes one sheet per matrix, named after its measure.
// Row one and column A carry the region labels so the numbers stay
// interpretable without the sidecar.
func (e *Exporter) ExportMatrices(ctx context.Context, path string, matrices []*connectivity.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(matrices) == 0 {
		return errors.New(errors.CodeInternalError, "no matrices to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, m := range matrices {
		sheet := m.Measure.DescValue()
		if i == 0 {
			// reuse the default sheet rather than leaving it empty
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return errors.WriteFailed(path, err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return errors.WriteFailed(path, err)
		}
		if err := writeMatrixSheet(f, sheet, m); err != nil {
			return errors.WriteFailed(path, err)
		}
	}
	f.SetActiveSheet(0)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := f.SaveAs(path); err != nil {
		return errors.WriteFailed(path, err)
	}
	e.log.Debug("wrote %d matrix sheets to %s", len(matrices), path)
	return nil
}

func writeMatrixSheet(f *excelize.File, sheet string, m *connectivity.Matrix) error {
	n := m.Dim()
	for j, label := range m.Labels {
		cell, _ := excelize.CoordinatesToCellName(j+2, 1)
		if err := f.SetCellValue(sheet, cell, label); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetCellValue(sheet, cell, m.Labels[i]); err != nil {
			return err
		}
		for j := 0; j < n; j++ {
			cell, _ := excelize.CoordinatesToCellName(j+2, i+2)
			if err := f.SetCellValue(sheet, cell, m.At(i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}
