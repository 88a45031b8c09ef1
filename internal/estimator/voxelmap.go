package estimator

import (
	"context"
	"math"

	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/domain/series"
	"connectomix/domain/volume"
	"connectomix/internal"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// voxelChunk is the number of voxels one worker correlates per task
const voxelChunk = 4096

// VoxelMapper produces per-voxel Pearson maps for the voxelwise methods.
// Each map correlates one cleaned regional series against the censored
// raw series of every in-brain voxel.
type VoxelMapper struct {
	log     *internal.Logger
	workers int
}

// NewVoxelMapper creates a mapper that correlates voxels across the
// given number of workers
func NewVoxelMapper(logger *internal.Logger, workers int) *VoxelMapper {
	if workers < 1 {
		workers = 1
	}
	return &VoxelMapper{log: logger.WithPrefix("voxelmap"), workers: workers}
}

// Map computes one correlation volume per region column. The censor mask
// selects which functional volumes enter each voxel series and must
// retain exactly as many timepoints as the regional matrix holds. Brain
// lists the flat indices to correlate; nil means every voxel. Voxels
// outside brain, and voxels with zero variance, stay at zero.
func (vm *VoxelMapper) Map(ctx context.Context, f *volume.Functional, mask series.CensorMask, regions *series.TimeSeriesMatrix, brain []int, prov connectivity.Provenance) ([]*connectivity.VoxelMap, error) {
	if mask.Len() != f.NumVolumes {
		return nil, core.NewConfigurationError("censor mask covers %d volumes but the image has %d", mask.Len(), f.NumVolumes)
	}
	retained := mask.RetainedIndices()
	if len(retained) != regions.NumTimepoints() {
		return nil, core.NewConfigurationError("regional series has %d timepoints but censoring retains %d volumes", regions.NumTimepoints(), len(retained))
	}
	if brain == nil {
		brain = make([]int, f.Grid.NumVoxels())
		for i := range brain {
			brain[i] = i
		}
	}

	maps := make([]*connectivity.VoxelMap, regions.NumRegions())
	for r := 0; r < regions.NumRegions(); r++ {
		seed := regions.Column(r)
		values := volume.NewVolume(f.Grid)

		vm.log.Debug("correlating region %s against %d voxels", regions.Names[r], len(brain))
		if err := vm.correlate(ctx, f, retained, seed, brain, values); err != nil {
			return nil, err
		}

		maps[r] = &connectivity.VoxelMap{
			RegionName: regions.Names[r],
			Measure:    connectivity.MeasureCorrelation,
			Values:     values,
			Provenance: prov,
		}
	}
	return maps, nil
}

// correlate fills values with Pearson coefficients for one seed series,
// chunking the voxel list across workers
func (vm *VoxelMapper) correlate(ctx context.Context, f *volume.Functional, retained []int, seed []float64, brain []int, values *volume.Volume) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(vm.workers)

	stride := f.Grid.NumVoxels()
	for start := 0; start < len(brain); start += voxelChunk {
		end := start + voxelChunk
		if end > len(brain) {
			end = len(brain)
		}
		chunk := brain[start:end]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vox := make([]float64, len(retained))
			for _, idx := range chunk {
				for t, src := range retained {
					vox[t] = f.Data[src*stride+idx]
				}
				r := stat.Correlation(seed, vox, nil)
				if !math.IsNaN(r) { // NaN means a flat voxel, which stays at zero
					values.Data[idx] = r
				}
			}
			return nil
		})
	}
	return g.Wait()
}
