package connectivity

import "connectomix/domain/core"

// Measure identifies one connectivity estimate kind
type Measure string

const (
	MeasureCorrelation        Measure = "correlation"
	MeasureCovariance         Measure = "covariance"
	MeasurePartialCorrelation Measure = "partial_correlation"
	MeasurePrecision          Measure = "precision"
)

// ParseMeasure validates a configured measure token
func ParseMeasure(s string) (Measure, error) {
	switch Measure(s) {
	case MeasureCorrelation, MeasureCovariance, MeasurePartialCorrelation, MeasurePrecision:
		return Measure(s), nil
	}
	return "", core.NewConfigurationError("unknown connectivity measure %q (want correlation, covariance, partial_correlation or precision)", s)
}

// NeedsPrecision reports whether the measure requires inverting the
// covariance matrix
func (m Measure) NeedsPrecision() bool {
	return m == MeasurePartialCorrelation || m == MeasurePrecision
}

// DescValue returns the measure as a BIDS desc entity value, which
// allows no underscores
func (m Measure) DescValue() string {
	if m == MeasurePartialCorrelation {
		return "partialCorrelation"
	}
	return string(m)
}
