package extraction

import (
	"math"
	"testing"

	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/volume"
	"connectomix/internal"
)

func testLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

// grid8 is an 8x8x8 lattice of 2mm voxels with the origin at its center
func grid8() volume.Grid {
	a := volume.ScalingAffine(2, 2, 2)
	a[0][3] = -8
	a[1][3] = -8
	a[2][3] = -8
	return volume.Grid{Nx: 8, Ny: 8, Nz: 8, Affine: a}
}

// rampSeries has value (idx + 1) * (t + 1) at every voxel, so means are
// easy to predict
func rampSeries(g volume.Grid, numVolumes int) *volume.Functional {
	f := volume.NewFunctional(g, numVolumes, 2.0)
	for t := 0; t < numVolumes; t++ {
		for idx := 0; idx < g.NumVoxels(); idx++ {
			f.Data[t*g.NumVoxels()+idx] = float64(idx+1) * float64(t+1)
		}
	}
	return f
}

func TestExtractSeedSphere(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 4)

	seeds := []region.Seed{{Name: "center", X: 0, Y: 0, Z: 0, Radius: 2.5}}
	spec, err := region.NewSeedsSpec(seeds)
	if err != nil {
		t.Fatalf("NewSeedsSpec() error = %v", err)
	}

	result, err := e.Extract(f, spec, nil, false)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(result.Regions) != 1 || len(result.Failed) != 0 {
		t.Fatalf("regions = %d, failed = %d, want 1 and 0", len(result.Regions), len(result.Failed))
	}

	// 2.5mm radius on a 2mm grid: the center voxel plus its six face
	// neighbors (2mm away); diagonal neighbors are 2.83mm away
	if got := len(result.Regions[0].Indices); got != 7 {
		t.Errorf("sphere voxel count = %d, want 7", got)
	}
	if result.Matrix.NumTimepoints() != 4 || result.Matrix.NumRegions() != 1 {
		t.Errorf("matrix dims = %dx%d, want 4x1", result.Matrix.NumTimepoints(), result.Matrix.NumRegions())
	}

	// the mean scales linearly with t for the ramp series
	col := result.Matrix.Column(0)
	if math.Abs(col[1]-2*col[0]) > 1e-9 || math.Abs(col[3]-4*col[0]) > 1e-9 {
		t.Errorf("regional means do not follow the ramp: %v", col)
	}
}

func TestExtractSeedOutsideBrainMaskReportsEmptyRegion(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 3)

	// brain mask covering only the x < 0 half
	brain := volume.NewVolume(g)
	for k := 0; k < g.Nz; k++ {
		for j := 0; j < g.Ny; j++ {
			for i := 0; i < 4; i++ {
				brain.Set(i, j, k, 1)
			}
		}
	}

	seeds := []region.Seed{
		{Name: "inBrain", X: -5, Y: 0, Z: 0, Radius: 3},
		{Name: "outside", X: 6, Y: 0, Z: 0, Radius: 2},
	}
	spec, _ := region.NewSeedsSpec(seeds)

	result, err := e.Extract(f, spec, brain, false)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	// sibling regions still produce results
	if len(result.Regions) != 1 || result.Regions[0].Name != "inBrain" {
		t.Fatalf("surviving regions = %+v, want only inBrain", result.Regions)
	}
	if len(result.Failed) != 1 || result.Failed[0].Name != "outside" {
		t.Fatalf("failed regions = %+v, want only outside", result.Failed)
	}
	if !core.IsEmptyRegionError(result.Failed[0].Err) {
		t.Errorf("failure not classified as empty region: %v", result.Failed[0].Err)
	}
}

func TestExtractAllRegionsEmptyFails(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 3)

	seeds := []region.Seed{{Name: "farAway", X: 500, Y: 500, Z: 500, Radius: 2}}
	spec, _ := region.NewSeedsSpec(seeds)

	_, err := e.Extract(f, spec, nil, false)
	if err == nil {
		t.Fatal("Extract() with every region empty expected error, got nil")
	}
	if !core.IsEmptyRegionError(err) {
		t.Errorf("error not classified as empty region: %v", err)
	}
}

func TestExtractAtlasInAscendingLabelOrder(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 3)

	atlas := volume.NewVolume(g)
	// deliberately fill higher label first
	atlas.Set(0, 0, 0, 9)
	atlas.Set(1, 0, 0, 9)
	atlas.Set(2, 0, 0, 1)
	atlas.Set(3, 0, 0, 5)

	spec, _ := region.NewAtlasSpec(atlas, map[int]string{1: "Visual", 9: "Motor"})
	result, err := e.Extract(f, spec, nil, false)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := []string{"Visual", "ROI_5", "Motor"}
	if len(result.Regions) != 3 {
		t.Fatalf("regions = %d, want 3", len(result.Regions))
	}
	for i, name := range want {
		if result.Regions[i].Name != name {
			t.Errorf("region[%d] = %q, want %q (ascending label order)", i, result.Regions[i].Name, name)
		}
	}
	if result.Matrix.Names[1] != "ROI_5" {
		t.Errorf("unnamed parcel column = %q, want ROI_5", result.Matrix.Names[1])
	}
}

func TestExtractMaskRegion(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 2)

	mask := volume.NewVolume(g)
	mask.Set(0, 0, 0, 1)
	mask.Set(1, 1, 1, 1)
	spec, _ := region.NewMaskSpec(mask, "dmn")

	result, err := e.Extract(f, spec, nil, false)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(result.Regions) != 1 || result.Regions[0].Name != "dmn" {
		t.Fatalf("mask extraction regions = %+v", result.Regions)
	}
	if len(result.Regions[0].Indices) != 2 {
		t.Errorf("mask voxel count = %d, want 2", len(result.Regions[0].Indices))
	}
}

func TestExtractMultipleMasks(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 2)

	first := volume.NewVolume(g)
	first.Set(0, 0, 0, 1)
	second := volume.NewVolume(g)
	second.Set(0, 0, 0, 1) // overlaps the first
	second.Set(1, 0, 0, 1)
	spec, err := region.NewMasksSpec([]*volume.Volume{first, second}, []string{"DMN", "Salience"})
	if err != nil {
		t.Fatalf("NewMasksSpec() error = %v", err)
	}

	result, err := e.Extract(f, spec, nil, false)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(result.Regions) != 2 {
		t.Fatalf("regions = %d, want one per mask", len(result.Regions))
	}
	if result.Regions[0].Name != "DMN" || result.Regions[1].Name != "Salience" {
		t.Errorf("region order = %v, want config order", result.Matrix.Names)
	}
	if len(result.Regions[1].Indices) != 2 {
		t.Errorf("overlapping mask voxel count = %d, want 2", len(result.Regions[1].Indices))
	}
}

func TestExtractStandardized(t *testing.T) {
	e := NewExtractor(testLogger())
	g := grid8()
	f := rampSeries(g, 5)

	mask := volume.NewVolume(g)
	mask.Set(2, 2, 2, 1)
	spec, _ := region.NewMaskSpec(mask, "m")

	result, err := e.Extract(f, spec, nil, true)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	col := result.Matrix.Column(0)
	mean := 0.0
	for _, v := range col {
		mean += v
	}
	mean /= float64(len(col))
	if math.Abs(mean) > 1e-9 {
		t.Errorf("standardized series mean = %v, want 0", mean)
	}
}
