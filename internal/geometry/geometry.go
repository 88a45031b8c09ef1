// Package geometry reconciles the grids of a functional series and its
// region definitions before extraction. Downstream code indexes volumes
// together, so it requires identical grids and never interpolates.
package geometry

import (
	"math"

	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/volume"
	"connectomix/internal"
)

// Tolerance is the maximum per-entry affine difference, in millimeters,
// below which two grids count as identical.
const Tolerance = 1e-3

// Guard brings region definitions onto the functional grid
type Guard struct {
	log *internal.Logger
}

// NewGuard creates a guard logging under the geometry prefix
func NewGuard(logger *internal.Logger) *Guard {
	return &Guard{log: logger.WithPrefix("geometry")}
}

// Reconcile returns a spec whose volumetric components all share the
// functional grid. Specs already on the grid pass through untouched, so
// reconciling twice is the same as reconciling once. Seed specs carry no
// volume and always pass through. Mask specs reconcile per volume since
// each mask file brings its own grid.
func (g *Guard) Reconcile(target volume.Grid, spec region.Spec) (region.Spec, error) {
	src := spec.VolumetricComponents()
	if len(src) == 0 {
		return spec, nil
	}

	resampled := make([]*volume.Volume, len(src))
	changed := false
	for i, vol := range src {
		out, err := g.ReconcileVolume(target, vol, componentName(spec, i))
		if err != nil {
			return region.Spec{}, err
		}
		if out != vol {
			changed = true
		}
		resampled[i] = out
	}
	if !changed {
		g.log.Debug("region grids match the functional grid, no resampling")
		return spec, nil
	}
	return spec.WithVolumetricComponents(resampled), nil
}

func componentName(spec region.Spec, i int) string {
	if spec.Kind == region.KindMask && i < len(spec.MaskNames) {
		return "mask " + spec.MaskNames[i]
	}
	return string(spec.Kind)
}

// ReconcileVolume resamples a single volume onto the target grid when
// needed. what names the volume in logs and errors.
func (g *Guard) ReconcileVolume(target volume.Grid, vol *volume.Volume, what string) (*volume.Volume, error) {
	if vol.Grid.Matches(target, Tolerance) {
		return vol, nil
	}
	g.log.Info("%s grid differs from functional grid (%dx%dx%d vs %dx%dx%d), resampling nearest-neighbor",
		what,
		vol.Grid.Nx, vol.Grid.Ny, vol.Grid.Nz,
		target.Nx, target.Ny, target.Nz)

	out, err := ResampleNearest(vol, target)
	if err != nil {
		return nil, core.NewGeometryError("cannot resample %s onto functional grid: %v", what, err)
	}
	return out, nil
}

// ResampleNearest maps each target voxel center through both affines
// into the source lattice and copies the nearest source voxel. Nearest
// neighbor keeps mask and atlas values exact; target voxels falling
// outside the source stay zero (background).
func ResampleNearest(src *volume.Volume, target volume.Grid) (*volume.Volume, error) {
	srcInv, err := src.Grid.Affine.Inverse()
	if err != nil {
		return nil, err
	}
	out := volume.NewVolume(target)
	for k := 0; k < target.Nz; k++ {
		for j := 0; j < target.Ny; j++ {
			for i := 0; i < target.Nx; i++ {
				mx, my, mz := target.Affine.Apply(float64(i), float64(j), float64(k))
				sx, sy, sz := srcInv.Apply(mx, my, mz)
				si := int(math.Round(sx))
				sj := int(math.Round(sy))
				sk := int(math.Round(sz))
				if src.Grid.InBounds(si, sj, sk) {
					out.Set(i, j, k, src.At(si, sj, sk))
				}
			}
		}
	}
	return out, nil
}
