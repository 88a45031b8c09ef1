package volume

// Grid is the sampling lattice of a volume: integer dimensions plus the
// affine that places voxel indices in millimeter space. Two volumes are
// directly comparable only when their grids match.
type Grid struct {
	Nx, Ny, Nz int
	Affine     Affine
}

// NumVoxels returns the total voxel count
func (g Grid) NumVoxels() int {
	return g.Nx * g.Ny * g.Nz
}

// Index returns the flat offset of voxel (i, j, k). Layout is x-fastest,
// matching on-disk NIfTI ordering.
func (g Grid) Index(i, j, k int) int {
	return i + g.Nx*(j+g.Ny*k)
}

// Coords is the inverse of Index
func (g Grid) Coords(idx int) (i, j, k int) {
	i = idx % g.Nx
	idx /= g.Nx
	j = idx % g.Ny
	k = idx / g.Ny
	return i, j, k
}

// InBounds reports whether (i, j, k) lies inside the lattice
func (g Grid) InBounds(i, j, k int) bool {
	return i >= 0 && i < g.Nx && j >= 0 && j < g.Ny && k >= 0 && k < g.Nz
}

// Matches reports whether two grids describe the same sampling: identical
// dimensions and affines equal within tol millimeters.
func (g Grid) Matches(other Grid, tol float64) bool {
	if g.Nx != other.Nx || g.Ny != other.Ny || g.Nz != other.Nz {
		return false
	}
	return g.Affine.AlmostEqual(other.Affine, tol)
}
