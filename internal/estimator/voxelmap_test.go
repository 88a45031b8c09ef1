package estimator

import (
	"context"
	"math"
	"testing"

	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/domain/series"
	"connectomix/domain/volume"
)

// mapGrid is a 2x2x1 grid, four voxels at flat indices 0..3
func mapGrid() volume.Grid {
	return volume.Grid{Nx: 2, Ny: 2, Nz: 1, Affine: volume.ScalingAffine(2, 2, 2)}
}

func functionalFromSeries(g volume.Grid, tr float64, perVoxel [][]float64) *volume.Functional {
	f := volume.NewFunctional(g, len(perVoxel[0]), tr)
	stride := g.NumVoxels()
	for idx, seriesData := range perVoxel {
		for t, v := range seriesData {
			f.Data[t*stride+idx] = v
		}
	}
	return f
}

func TestVoxelMapPearson(t *testing.T) {
	g := mapGrid()
	f := functionalFromSeries(g, 2.0, [][]float64{
		{1, 2, 3, 4}, // identical to the seed
		{4, 3, 2, 1}, // reversed
		{7, 7, 7, 7}, // flat
		{2, 4, 6, 8}, // scaled
	})
	seed := matrixFromColumns(t, []string{"seed"}, []float64{1, 2, 3, 4})

	vm := NewVoxelMapper(quietLogger(), 2)
	maps, err := vm.Map(context.Background(), f, series.NewCensorMask(4), seed, nil, connectivity.Provenance{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(maps) != 1 {
		t.Fatalf("got %d maps, want 1", len(maps))
	}

	out := maps[0]
	if out.RegionName != "seed" {
		t.Errorf("region name = %q, want seed", out.RegionName)
	}
	if out.Measure != connectivity.MeasureCorrelation {
		t.Errorf("voxelwise maps are always Pearson, got %s", out.Measure)
	}

	want := []float64{1, -1, 0, 1}
	for idx, w := range want {
		if got := out.Values.Data[idx]; math.Abs(got-w) > 1e-12 {
			t.Errorf("voxel %d: r = %v, want %v", idx, got, w)
		}
	}
}

func TestVoxelMapHonorsCensorMask(t *testing.T) {
	g := mapGrid()
	// voxel 0 matches the seed only once the first volume is dropped
	f := functionalFromSeries(g, 2.0, [][]float64{
		{100, 1, 2, 3},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	})
	seed := matrixFromColumns(t, []string{"seed"}, []float64{1, 2, 3})
	mask := series.FromKeep([]bool{false, true, true, true})

	vm := NewVoxelMapper(quietLogger(), 1)
	maps, err := vm.Map(context.Background(), f, mask, seed, nil, connectivity.Provenance{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := maps[0].Values.Data[0]; math.Abs(got-1) > 1e-12 {
		t.Errorf("censored r = %v, want 1", got)
	}
}

func TestVoxelMapRestrictsToBrainIndices(t *testing.T) {
	g := mapGrid()
	f := functionalFromSeries(g, 2.0, [][]float64{
		{1, 2, 3, 4},
		{1, 2, 3, 4},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	})
	seed := matrixFromColumns(t, []string{"seed"}, []float64{1, 2, 3, 4})

	vm := NewVoxelMapper(quietLogger(), 1)
	maps, err := vm.Map(context.Background(), f, series.NewCensorMask(4), seed, []int{0}, connectivity.Provenance{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := maps[0].Values.Data[0]; math.Abs(got-1) > 1e-12 {
		t.Errorf("in-brain voxel r = %v, want 1", got)
	}
	if got := maps[0].Values.Data[1]; got != 0 {
		t.Errorf("out-of-brain voxel r = %v, want 0", got)
	}
}

func TestVoxelMapOneMapPerRegion(t *testing.T) {
	g := mapGrid()
	f := functionalFromSeries(g, 2.0, [][]float64{
		{1, 2, 3, 4},
		{4, 3, 2, 1},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	})
	regions := matrixFromColumns(t, []string{"left", "right"},
		[]float64{1, 2, 3, 4}, []float64{4, 3, 2, 1})

	vm := NewVoxelMapper(quietLogger(), 2)
	maps, err := vm.Map(context.Background(), f, series.NewCensorMask(4), regions, nil, connectivity.Provenance{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(maps) != 2 {
		t.Fatalf("got %d maps, want 2", len(maps))
	}
	if maps[0].RegionName != "left" || maps[1].RegionName != "right" {
		t.Errorf("map order = %q, %q; want left, right", maps[0].RegionName, maps[1].RegionName)
	}
	if got := maps[1].Values.Data[1]; math.Abs(got-1) > 1e-12 {
		t.Errorf("right against reversed voxel r = %v, want 1", got)
	}
}

func TestVoxelMapRejectsMismatchedLengths(t *testing.T) {
	g := mapGrid()
	f := functionalFromSeries(g, 2.0, [][]float64{
		{1, 2, 3, 4}, {0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0},
	})
	vm := NewVoxelMapper(quietLogger(), 1)

	shortMask := series.NewCensorMask(3)
	if _, err := vm.Map(context.Background(), f, shortMask, matrixFromColumns(t, []string{"s"}, []float64{1, 2, 3}), nil, connectivity.Provenance{}); !core.IsConfigurationError(err) {
		t.Errorf("short mask error = %v, want configuration error", err)
	}

	wrongRows := matrixFromColumns(t, []string{"s"}, []float64{1, 2})
	if _, err := vm.Map(context.Background(), f, series.NewCensorMask(4), wrongRows, nil, connectivity.Provenance{}); !core.IsConfigurationError(err) {
		t.Errorf("mismatched series error = %v, want configuration error", err)
	}
}

func TestVoxelMapStopsOnCancelledContext(t *testing.T) {
	g := mapGrid()
	f := functionalFromSeries(g, 2.0, [][]float64{
		{1, 2, 3, 4}, {0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0},
	})
	seed := matrixFromColumns(t, []string{"seed"}, []float64{1, 2, 3, 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vm := NewVoxelMapper(quietLogger(), 1)
	if _, err := vm.Map(ctx, f, series.NewCensorMask(4), seed, nil, connectivity.Provenance{}); err == nil {
		t.Error("cancelled context should abort the map")
	}
}
