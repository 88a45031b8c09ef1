package connectivity

import (
	"connectomix/domain/core"
	"connectomix/domain/volume"

	"gonum.org/v1/gonum/mat"
)

// Provenance records how an estimate was produced. It travels with the
// artifact into its JSON sidecar.
type Provenance struct {
	Method             Method
	HighPassHz         float64
	LowPassHz          float64
	OriginalVolumes    int
	RetainedVolumes    int
	AtlasName          string
	ShrinkageApplied   bool
	ShrinkageIntensity float64
}

// Matrix is one square connectivity estimate over named regions.
// Symmetry is structural: the backing storage cannot hold an asymmetric
// matrix. Instances are immutable after creation.
type Matrix struct {
	Measure    Measure
	Labels     []string
	Data       *mat.SymDense
	Provenance Provenance
}

// NewMatrix wraps a symmetric estimate with its region labels
func NewMatrix(measure Measure, labels []string, data *mat.SymDense, prov Provenance) (*Matrix, error) {
	if data.SymmetricDim() != len(labels) {
		return nil, core.NewConfigurationError("matrix is %dx%d but has %d labels", data.SymmetricDim(), data.SymmetricDim(), len(labels))
	}
	return &Matrix{Measure: measure, Labels: labels, Data: data, Provenance: prov}, nil
}

// Dim returns the region count
func (m *Matrix) Dim() int {
	return m.Data.SymmetricDim()
}

// At returns the estimate between regions i and j
func (m *Matrix) At(i, j int) float64 {
	return m.Data.At(i, j)
}

// Dense returns the estimate as a full row-major slice, for writers
// that need flat storage
func (m *Matrix) Dense() []float64 {
	n := m.Dim()
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = m.Data.At(i, j)
		}
	}
	return out
}

// VoxelMap is one per-voxel connectivity image for a single region,
// produced by the voxelwise methods. Immutable after creation.
type VoxelMap struct {
	RegionName string
	Measure    Measure
	Values     *volume.Volume
	Provenance Provenance
}
