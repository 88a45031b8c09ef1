package volume

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 homogeneous transform mapping voxel indices to
// millimeter coordinates. Row-major; the bottom row is [0 0 0 1] for
// any affine produced by this package.
type Affine [4][4]float64

// IdentityAffine returns the identity transform
func IdentityAffine() Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		a[i][i] = 1
	}
	return a
}

// ScalingAffine returns a diagonal affine with the given voxel sizes in mm
func ScalingAffine(sx, sy, sz float64) Affine {
	a := IdentityAffine()
	a[0][0] = sx
	a[1][1] = sy
	a[2][2] = sz
	return a
}

// Apply maps a voxel-space point to millimeter space
func (a Affine) Apply(x, y, z float64) (float64, float64, float64) {
	mx := a[0][0]*x + a[0][1]*y + a[0][2]*z + a[0][3]
	my := a[1][0]*x + a[1][1]*y + a[1][2]*z + a[1][3]
	mz := a[2][0]*x + a[2][1]*y + a[2][2]*z + a[2][3]
	return mx, my, mz
}

// Inverse returns the inverse transform. Fails if the affine is singular,
// which only happens for degenerate headers (zero voxel size).
func (a Affine) Inverse() (Affine, error) {
	src := mat.NewDense(4, 4, a.flat())
	var inv mat.Dense
	if err := inv.Inverse(src); err != nil {
		return Affine{}, err
	}
	var out Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// AlmostEqual reports whether every entry of a and b agrees within tol.
// tol is in millimeters for the translation column and dimensionless for
// the direction entries; a single mm-scale tolerance covers both.
func (a Affine) AlmostEqual(b Affine, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// VoxelSizes returns the voxel edge lengths in mm (column norms)
func (a Affine) VoxelSizes() [3]float64 {
	var s [3]float64
	for j := 0; j < 3; j++ {
		s[j] = math.Sqrt(a[0][j]*a[0][j] + a[1][j]*a[1][j] + a[2][j]*a[2][j])
	}
	return s
}

func (a Affine) flat() []float64 {
	out := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		out = append(out, a[i][:]...)
	}
	return out
}
