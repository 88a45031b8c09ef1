// Package signal removes confound-explained variance from regional time
// series and applies frequency-domain filtering. Regression runs before
// filtering: confounds are broadband, and filtering first would
// reintroduce removed variance at the band edges.
package signal

import (
	"math"

	"connectomix/domain/core"
	"connectomix/domain/series"
	"connectomix/internal"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Band is the retained frequency range in Hz. A zero edge disables that
// side of the filter.
type Band struct {
	HighPassHz float64
	LowPassHz  float64
}

// Enabled reports whether any filtering is requested
func (b Band) Enabled() bool {
	return b.HighPassHz > 0 || b.LowPassHz > 0
}

// Validate checks the band against the sampling rate
func (b Band) Validate(tr float64) error {
	if !b.Enabled() {
		return nil
	}
	if tr <= 0 {
		return core.NewConfigurationError("band-pass filtering requires a positive repetition time, got %g", tr)
	}
	nyquist := 1 / (2 * tr)
	if b.LowPassHz > 0 && b.LowPassHz > nyquist {
		return core.NewConfigurationError("low-pass %g Hz exceeds the Nyquist frequency %g Hz", b.LowPassHz, nyquist)
	}
	if b.HighPassHz > 0 && b.LowPassHz > 0 && b.HighPassHz >= b.LowPassHz {
		return core.NewConfigurationError("high-pass %g Hz is not below low-pass %g Hz", b.HighPassHz, b.LowPassHz)
	}
	return nil
}

// Cleaner removes nuisance variance from time series
type Cleaner struct {
	log *internal.Logger
}

// NewCleaner creates a cleaner logging under the clean prefix
func NewCleaner(logger *internal.Logger) *Cleaner {
	return &Cleaner{log: logger.WithPrefix("clean")}
}

// Clean demeans each regional series, projects out the selected
// confounds by least squares, then band-pass filters. selectors may be
// empty to skip regression. With standardize set, each series is scaled
// to unit variance at the end; the default leaves covariance untouched.
// The input matrix is never modified.
func (c *Cleaner) Clean(m *series.TimeSeriesMatrix, confounds *series.ConfoundTable, band Band, selectors []string, tr float64, standardize bool) (*series.TimeSeriesMatrix, error) {
	if err := band.Validate(tr); err != nil {
		return nil, err
	}

	cleaned := mat.DenseCopyOf(m.Data)
	demeanColumns(cleaned)

	if len(selectors) > 0 {
		if confounds == nil {
			return nil, core.NewConfigurationError("confound regression requested but no confound table is available")
		}
		if confounds.NumTimepoints() != m.NumTimepoints() {
			return nil, core.NewConfigurationError("confound table has %d rows but the series has %d timepoints",
				confounds.NumTimepoints(), m.NumTimepoints())
		}
		selected, err := confounds.Select(selectors)
		if err != nil {
			return nil, err
		}
		design, kept := standardizedDesign(selected)
		if dropped := selected.NumColumns() - kept; dropped > 0 {
			c.log.Debug("dropped %d constant confound columns from the design", dropped)
		}
		if kept > 0 {
			if err := projectOut(cleaned, design); err != nil {
				return nil, err
			}
			c.log.Debug("regressed out %d confounds from %d regions", kept, m.NumRegions())
		}
	}

	if band.Enabled() {
		filterColumns(cleaned, band, tr)
		c.log.Debug("band-pass filtered %g-%g Hz at TR=%gs", band.HighPassHz, band.LowPassHz, tr)
	}

	if standardize {
		scaleColumns(cleaned)
	}

	return series.NewTimeSeriesMatrix(m.Names, cleaned)
}

// scaleColumns divides each column by its standard deviation in place.
// Columns are already demeaned; zero-variance columns are left alone.
func scaleColumns(x *mat.Dense) {
	rows, cols := x.Dims()
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		std := stat.StdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		for i := range col {
			col[i] /= std
		}
		x.SetCol(j, col)
	}
}

// demeanColumns subtracts each column's mean in place
func demeanColumns(x *mat.Dense) {
	rows, cols := x.Dims()
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean := stat.Mean(col, nil)
		for i := range col {
			col[i] -= mean
		}
		x.SetCol(j, col)
	}
}

// standardizedDesign zero-means and unit-scales each confound column.
// Columns that are constant after censoring carry no information and
// would make the design singular, so they are dropped. Returns the
// design and the number of columns kept; the design is nil when none
// survive.
func standardizedDesign(confounds *series.ConfoundTable) (*mat.Dense, int) {
	rows := confounds.NumTimepoints()
	var columns [][]float64
	for _, name := range confounds.Names {
		col, _ := confounds.Column(name)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		for i := range col {
			col[i] = (col[i] - mean) / std
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return nil, 0
	}
	design := mat.NewDense(rows, len(columns), nil)
	for j, col := range columns {
		design.SetCol(j, col)
	}
	return design, len(columns)
}

// projectOut removes the subspace spanned by the design from x in
// place, via the SVD pseudoinverse so collinear confounds cannot break
// the solve.
func projectOut(x *mat.Dense, design *mat.Dense) error {
	var svd mat.SVD
	if !svd.Factorize(design, mat.SVDThin) {
		return core.NewNumericalInstabilityError("confound regression", "SVD of the design matrix failed to converge")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	rows, cols := design.Dims()
	larger := rows
	if cols > larger {
		larger = cols
	}
	tol := float64(larger) * 2.220446049250313e-16 * s[0]

	// beta = V * S^+ * U^T * x
	var utx mat.Dense
	utx.Mul(u.T(), x)
	for i, sv := range s {
		scale := 0.0
		if sv > tol {
			scale = 1 / sv
		}
		row := utx.RawRowView(i)
		for j := range row {
			row[j] *= scale
		}
	}
	var beta mat.Dense
	beta.Mul(&v, &utx)

	var fitted mat.Dense
	fitted.Mul(design, &beta)
	x.Sub(x, &fitted)
	return nil
}

// filterColumns applies the band as a frequency-domain mask to every
// column in place. Masking real Fourier coefficients leaves phases
// untouched, which is what keeps the filter zero-phase.
func filterColumns(x *mat.Dense, band Band, tr float64) {
	rows, cols := x.Dims()
	fft := fourier.NewFFT(rows)
	coeffs := make([]complex128, rows/2+1)
	col := make([]float64, rows)

	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		fft.Coefficients(coeffs, col)
		for i := range coeffs {
			freq := fft.Freq(i) / tr
			keep := (band.HighPassHz == 0 || freq >= band.HighPassHz) &&
				(band.LowPassHz == 0 || freq <= band.LowPassHz)
			if !keep {
				coeffs[i] = 0
			}
		}
		fft.Sequence(col, coeffs)
		// the inverse transform is unnormalized
		for i := range col {
			col[i] /= float64(rows)
		}
		x.SetCol(j, col)
	}
}
