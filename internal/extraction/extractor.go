// Package extraction turns region definitions into per-region time
// series. Regions and the functional series must already share a grid;
// the geometry guard enforces that upstream.
package extraction

import (
	"fmt"
	"math"

	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/series"
	"connectomix/domain/volume"
	"connectomix/internal"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Extractor computes mean regional signals from a 4D series
type Extractor struct {
	log *internal.Logger
}

// NewExtractor creates an extractor logging under the extract prefix
func NewExtractor(logger *internal.Logger) *Extractor {
	return &Extractor{log: logger.WithPrefix("extract")}
}

// RegionFailure is one region that resolved to zero in-brain voxels.
// Failures are reported alongside the surviving regions, never silently
// dropped.
type RegionFailure struct {
	Name string
	Err  error
}

// Result carries the extracted signals plus the voxel membership of each
// surviving region, in matrix column order. Voxel indices are kept so
// voxelwise methods can reuse the membership without re-resolving.
type Result struct {
	Matrix  *series.TimeSeriesMatrix
	Regions []region.Region
	Failed  []RegionFailure
}

// Extract resolves the spec's regions against the functional grid and
// averages the series over each region's voxels. brainMask limits
// membership to in-brain voxels and may be nil when no mask is
// available. With standardize set, each regional series is z-scored.
func (e *Extractor) Extract(f *volume.Functional, spec region.Spec, brainMask *volume.Volume, standardize bool) (*Result, error) {
	regions, err := e.ResolveRegions(f.Grid, spec, brainMask)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, r := range regions {
		if r.IsEmpty() {
			failure := RegionFailure{
				Name: r.Name,
				Err:  core.NewEmptyRegionError(r.Name, "no in-brain voxels"),
			}
			result.Failed = append(result.Failed, failure)
			e.log.Warn("region %s resolved to zero in-brain voxels, skipping", r.Name)
			continue
		}
		result.Regions = append(result.Regions, r)
	}

	if len(result.Regions) == 0 {
		return nil, core.NewEmptyRegionError("all", fmt.Sprintf("none of the %d regions contain in-brain voxels", len(regions)))
	}

	names := make([]string, len(result.Regions))
	data := mat.NewDense(f.NumVolumes, len(result.Regions), nil)
	for col, r := range result.Regions {
		names[col] = r.Name
		signal := f.MeanOverIndices(r.Indices)
		if standardize {
			zscore(signal)
		}
		data.SetCol(col, signal)
	}

	matrix, err := series.NewTimeSeriesMatrix(names, data)
	if err != nil {
		return nil, err
	}
	result.Matrix = matrix

	e.log.Debug("extracted %d regions x %d timepoints (%d empty)",
		len(result.Regions), f.NumVolumes, len(result.Failed))
	return result, nil
}

// ResolveRegions lists every region the spec defines, including empty
// ones, in output order: seed file order, or ascending label for
// atlases.
func (e *Extractor) ResolveRegions(grid volume.Grid, spec region.Spec, brainMask *volume.Volume) ([]region.Region, error) {
	inBrain, err := brainFilter(grid, brainMask)
	if err != nil {
		return nil, err
	}

	switch spec.Kind {
	case region.KindSeeds:
		regions := make([]region.Region, 0, len(spec.Seeds))
		for _, seed := range spec.Seeds {
			indices, err := sphereIndices(grid, seed, inBrain)
			if err != nil {
				return nil, err
			}
			regions = append(regions, region.Region{Name: seed.Name, Indices: indices})
		}
		return regions, nil

	case region.KindMask:
		regions := make([]region.Region, len(spec.Masks))
		for i, mask := range spec.Masks {
			regions[i] = region.Region{
				Name:    spec.MaskNames[i],
				Indices: filterIndices(mask.Binarize(0), inBrain),
			}
		}
		return regions, nil

	case region.KindAtlas:
		labels := spec.Atlas.Labels()
		regions := make([]region.Region, 0, len(labels))
		for _, label := range labels {
			indices := filterIndices(spec.Atlas.LabelIndices(label), inBrain)
			regions = append(regions, region.Region{
				Name:    spec.AtlasRegionName(label),
				Indices: indices,
			})
		}
		return regions, nil
	}
	return nil, core.NewConfigurationError("region spec has unknown kind %q", spec.Kind)
}

// brainFilter returns a membership predicate over flat voxel indices.
// Without a mask every voxel is in-brain.
func brainFilter(grid volume.Grid, brainMask *volume.Volume) (func(int) bool, error) {
	if brainMask == nil {
		return func(int) bool { return true }, nil
	}
	if !brainMask.Grid.Matches(grid, 1e-3) {
		return nil, core.NewGeometryError("brain mask grid does not match functional grid")
	}
	return func(idx int) bool { return brainMask.Data[idx] > 0 }, nil
}

func filterIndices(indices []int, inBrain func(int) bool) []int {
	var out []int
	for _, idx := range indices {
		if inBrain(idx) {
			out = append(out, idx)
		}
	}
	return out
}

// sphereIndices collects the in-brain voxels whose centers lie within
// the seed radius. Only the bounding box of the sphere is scanned.
func sphereIndices(grid volume.Grid, seed region.Seed, inBrain func(int) bool) ([]int, error) {
	inv, err := grid.Affine.Inverse()
	if err != nil {
		return nil, core.NewGeometryError("functional affine is singular: %v", err)
	}

	cx, cy, cz := inv.Apply(seed.X, seed.Y, seed.Z)
	sizes := grid.Affine.VoxelSizes()
	r2 := seed.Radius * seed.Radius

	var indices []int
	for axis, size := range sizes {
		if size <= 0 {
			return nil, core.NewGeometryError("functional grid has zero voxel size on axis %d", axis)
		}
	}
	loI, hiI := boundAxis(cx, seed.Radius/sizes[0], grid.Nx)
	loJ, hiJ := boundAxis(cy, seed.Radius/sizes[1], grid.Ny)
	loK, hiK := boundAxis(cz, seed.Radius/sizes[2], grid.Nz)

	for k := loK; k <= hiK; k++ {
		for j := loJ; j <= hiJ; j++ {
			for i := loI; i <= hiI; i++ {
				mx, my, mz := grid.Affine.Apply(float64(i), float64(j), float64(k))
				dx, dy, dz := mx-seed.X, my-seed.Y, mz-seed.Z
				if dx*dx+dy*dy+dz*dz <= r2 {
					idx := grid.Index(i, j, k)
					if inBrain(idx) {
						indices = append(indices, idx)
					}
				}
			}
		}
	}
	return indices, nil
}

// boundAxis clamps the sphere's voxel-space bounding box to the lattice
func boundAxis(center, halfWidth float64, n int) (int, int) {
	lo := int(math.Floor(center - halfWidth - 1))
	hi := int(math.Ceil(center + halfWidth + 1))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

// zscore standardizes a series in place; constant series become zero
func zscore(x []float64) {
	mean, std := stat.MeanStdDev(x, nil)
	if std == 0 || math.IsNaN(std) {
		for i := range x {
			x[i] = 0
		}
		return
	}
	for i := range x {
		x[i] = (x[i] - mean) / std
	}
}
