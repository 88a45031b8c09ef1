// Package estimator derives connectivity measures from cleaned regional
// time series. All square measures come from one shared covariance pass
// so a correlation and a precision requested together always describe
// the same underlying estimate.
package estimator

import (
	"errors"
	"math"

	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/domain/series"
	"connectomix/internal"

	"gonum.org/v1/gonum/mat"
)

// ShrinkageMode controls when Ledoit-Wolf shrinkage is applied to the
// covariance before inversion
type ShrinkageMode string

const (
	// ShrinkageAuto shrinks only when the plain covariance is not
	// invertible
	ShrinkageAuto ShrinkageMode = "auto"
	// ShrinkageAlways shrinks unconditionally
	ShrinkageAlways ShrinkageMode = "always"
	// ShrinkageNever fails the inversion-based measures on a singular
	// covariance instead of shrinking
	ShrinkageNever ShrinkageMode = "never"
)

// ParseShrinkageMode validates a configured shrinkage token
func ParseShrinkageMode(s string) (ShrinkageMode, error) {
	switch ShrinkageMode(s) {
	case ShrinkageAuto, ShrinkageAlways, ShrinkageNever:
		return ShrinkageMode(s), nil
	}
	return "", core.NewConfigurationError("unknown shrinkage mode %q (want auto, always or never)", s)
}

// Estimator computes square connectivity measures
type Estimator struct {
	log       *internal.Logger
	shrinkage ShrinkageMode
}

// NewEstimator creates an estimator with the given shrinkage policy
func NewEstimator(logger *internal.Logger, shrinkage ShrinkageMode) *Estimator {
	if shrinkage == "" {
		shrinkage = ShrinkageAuto
	}
	return &Estimator{log: logger.WithPrefix("estimate"), shrinkage: shrinkage}
}

// Estimate computes every requested measure from the same covariance.
// Failures are per measure: a singular covariance fails precision and
// partial correlation while correlation and covariance still return.
// The returned maps are keyed by measure; a measure appears in exactly
// one of them.
func (e *Estimator) Estimate(m *series.TimeSeriesMatrix, measures []connectivity.Measure, prov connectivity.Provenance) (map[connectivity.Measure]*connectivity.Matrix, map[connectivity.Measure]error) {
	results := make(map[connectivity.Measure]*connectivity.Matrix)
	failures := make(map[connectivity.Measure]error)

	cov, intensity := e.baseCovariance(m)
	shrunkAtBase := e.shrinkage == ShrinkageAlways

	direct := prov
	direct.ShrinkageApplied = shrunkAtBase
	direct.ShrinkageIntensity = intensity

	for _, measure := range measures {
		switch measure {
		case connectivity.MeasureCovariance:
			results[measure] = mustMatrix(measure, m.Names, cov, direct)
		case connectivity.MeasureCorrelation:
			results[measure] = mustMatrix(measure, m.Names, correlationFrom(cov), direct)
		}
	}

	if !needsPrecision(measures) {
		return results, failures
	}

	prec, precProv, err := e.precision(m, cov, direct)
	if err != nil {
		for _, measure := range measures {
			if measure.NeedsPrecision() {
				failures[measure] = core.NewNumericalInstabilityError(string(measure), err.Error())
			}
		}
		return results, failures
	}

	for _, measure := range measures {
		switch measure {
		case connectivity.MeasurePrecision:
			results[measure] = mustMatrix(measure, m.Names, prec, precProv)
		case connectivity.MeasurePartialCorrelation:
			results[measure] = mustMatrix(measure, m.Names, partialFrom(prec), precProv)
		}
	}
	return results, failures
}

// baseCovariance returns the shared covariance, shrunk up front only in
// always mode
func (e *Estimator) baseCovariance(m *series.TimeSeriesMatrix) (*mat.SymDense, float64) {
	if e.shrinkage == ShrinkageAlways {
		cov, intensity := ledoitWolf(m.Data)
		e.log.Debug("ledoit-wolf shrinkage intensity %.4f", intensity)
		return cov, intensity
	}
	return covarianceMLE(m.Data), 0
}

// precision inverts the covariance, falling back to a shrunk covariance
// in auto mode when the plain one is singular
func (e *Estimator) precision(m *series.TimeSeriesMatrix, cov *mat.SymDense, prov connectivity.Provenance) (*mat.SymDense, connectivity.Provenance, error) {
	prec, err := invertSPD(cov)
	if err == nil {
		return prec, prov, nil
	}
	if e.shrinkage != ShrinkageAuto {
		return nil, prov, err
	}

	shrunk, intensity := ledoitWolf(m.Data)
	e.log.Warn("covariance is singular, retrying with ledoit-wolf shrinkage (intensity %.4f)", intensity)
	prec, retryErr := invertSPD(shrunk)
	if retryErr != nil {
		return nil, prov, retryErr
	}
	prov.ShrinkageApplied = true
	prov.ShrinkageIntensity = intensity
	return prec, prov, nil
}

func needsPrecision(measures []connectivity.Measure) bool {
	for _, m := range measures {
		if m.NeedsPrecision() {
			return true
		}
	}
	return false
}

func mustMatrix(measure connectivity.Measure, names []string, data *mat.SymDense, prov connectivity.Provenance) *connectivity.Matrix {
	out, err := connectivity.NewMatrix(measure, names, data, prov)
	if err != nil {
		// dimensions come from the same source matrix, so this cannot
		// happen for any input that reached estimation
		panic(err)
	}
	return out
}

// covarianceMLE computes the maximum-likelihood covariance (normalized
// by n) of the demeaned columns
func covarianceMLE(x *mat.Dense) *mat.SymDense {
	n, p := x.Dims()
	centered := demeaned(x)

	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		ci := centered.ColView(i)
		for j := i; j < p; j++ {
			cov.SetSym(i, j, mat.Dot(ci, centered.ColView(j))/float64(n))
		}
	}
	return cov
}

// ledoitWolf returns the covariance shrunk toward the scaled identity
// and the shrinkage intensity in [0, 1]. The target and intensity follow
// Ledoit and Wolf's well-conditioned estimator.
func ledoitWolf(x *mat.Dense) (*mat.SymDense, float64) {
	n, p := x.Dims()
	centered := demeaned(x)
	s := covarianceMLE(x)

	mu := 0.0
	for i := 0; i < p; i++ {
		mu += s.At(i, i)
	}
	mu /= float64(p)

	// d2 = ||S - mu I||_F^2 / p
	d2 := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			v := s.At(i, j)
			if i == j {
				v -= mu
			}
			d2 += v * v
		}
	}
	d2 /= float64(p)

	// b2 = (sum_k ||x_k||^4 - n ||S||_F^2) / (n^2 p), clamped to d2
	normS2 := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			normS2 += s.At(i, j) * s.At(i, j)
		}
	}
	sumQuads := 0.0
	for k := 0; k < n; k++ {
		row := centered.RawRowView(k)
		sq := 0.0
		for _, v := range row {
			sq += v * v
		}
		sumQuads += sq * sq
	}
	b2 := (sumQuads - float64(n)*normS2) / (float64(n) * float64(n) * float64(p))
	if b2 > d2 {
		b2 = d2
	}
	if b2 < 0 {
		b2 = 0
	}

	intensity := 0.0
	if d2 > 0 {
		intensity = b2 / d2
	}

	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (1 - intensity) * s.At(i, j)
			if i == j {
				v += intensity * mu
			}
			out.SetSym(i, j, v)
		}
	}
	return out, intensity
}

// correlationFrom normalizes a covariance to correlations. The diagonal
// is set to exactly 1.0, not left to floating-point division. Regions
// with zero variance correlate as zero with everything.
func correlationFrom(cov *mat.SymDense) *mat.SymDense {
	p := cov.SymmetricDim()
	out := mat.NewSymDense(p, nil)
	std := make([]float64, p)
	for i := 0; i < p; i++ {
		if v := cov.At(i, i); v > 0 {
			std[i] = math.Sqrt(v)
		}
	}
	for i := 0; i < p; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < p; j++ {
			if std[i] > 0 && std[j] > 0 {
				out.SetSym(i, j, cov.At(i, j)/(std[i]*std[j]))
			}
		}
	}
	return out
}

// partialFrom converts a precision matrix to partial correlations:
// -theta_ij / sqrt(theta_ii * theta_jj), with an exact unit diagonal.
func partialFrom(prec *mat.SymDense) *mat.SymDense {
	p := prec.SymmetricDim()
	out := mat.NewSymDense(p, nil)
	d := make([]float64, p)
	for i := 0; i < p; i++ {
		d[i] = math.Sqrt(prec.At(i, i))
	}
	for i := 0; i < p; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < p; j++ {
			if d[i] > 0 && d[j] > 0 {
				out.SetSym(i, j, -prec.At(i, j)/(d[i]*d[j]))
			}
		}
	}
	return out
}

// invertSPD inverts a symmetric positive definite matrix via Cholesky.
// A failed factorization means the matrix is singular or indefinite.
func invertSPD(s *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return nil, errors.New("covariance matrix is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// demeaned returns a column-centered copy
func demeaned(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.DenseCopyOf(x)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, out)
		mean := 0.0
		for _, v := range col {
			mean += v
		}
		mean /= float64(rows)
		for i := range col {
			col[i] -= mean
		}
		out.SetCol(j, col)
	}
	return out
}
