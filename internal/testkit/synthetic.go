package testkit

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"connectomix/domain/series"
	"connectomix/domain/volume"
)

// SyntheticConfig controls the generated BOLD series
type SyntheticConfig struct {
	Nx, Ny, Nz int     `json:"grid,omitempty"`
	Timepoints int     `json:"timepoints"`
	TR         float64 `json:"tr"`
	Noise      float64 `json:"noise"` // per-voxel additive noise sd
	Seed       int64   `json:"seed"`
}

// DefaultSyntheticConfig returns a small fast-to-process dataset shape
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Nx: 12, Ny: 12, Nz: 6,
		Timepoints: 80,
		TR:         2.0,
		Noise:      0.1,
		Seed:       42,
	}
}

// voxelSizeMM is the isotropic voxel size of generated images
const voxelSizeMM = 3.0

// baseline is the raw BOLD intensity signals ride on
const baseline = 100.0

// Cluster is one synthetic signal source embedded in the image. Signal
// is the clean time course before noise; recovered regional series
// should correlate strongly with it.
type Cluster struct {
	Name      string
	CenterVox [3]int
	CenterMM  [3]float64
	Radius    float64 // voxels
	Indices   []int   // flat voxel indices covered
	Signal    []float64
}

// Generator produces deterministic synthetic data
type Generator struct {
	config SyntheticConfig
	rng    *rand.Rand
}

// NewGenerator seeds a generator; equal configs generate equal data
func NewGenerator(config SyntheticConfig) *Generator {
	return &Generator{config: config, rng: rand.New(rand.NewSource(config.Seed))}
}

// Grid returns the sampling lattice generated images use
func (g *Generator) Grid() volume.Grid {
	return volume.Grid{
		Nx: g.config.Nx, Ny: g.config.Ny, Nz: g.config.Nz,
		Affine: volume.ScalingAffine(voxelSizeMM, voxelSizeMM, voxelSizeMM),
	}
}

// GenerateBOLD builds a 4D series with four embedded clusters named
// after default mode network nodes. PCC and mPFC share a sinusoidal
// component, so their regional series correlate strongly; the parietal
// pair runs at unrelated frequencies.
func (g *Generator) GenerateBOLD() (*volume.Functional, []Cluster) {
	grid := g.Grid()
	f := volume.NewFunctional(grid, g.config.Timepoints, g.config.TR)
	for i := range f.Data {
		f.Data[i] = baseline + g.config.Noise*g.rng.NormFloat64()
	}

	clusters := g.defaultClusters(grid)
	for _, c := range clusters {
		for _, idx := range c.Indices {
			i, j, k := grid.Coords(idx)
			for t := 0; t < g.config.Timepoints; t++ {
				f.Set(i, j, k, t, f.At(i, j, k, t)+c.Signal[t])
			}
		}
	}
	return f, clusters
}

// defaultClusters places four sources well inside the lattice. All
// frequencies sit inside the usual 0.008-0.1 Hz band so filtering does
// not strip the ground truth.
func (g *Generator) defaultClusters(grid volume.Grid) []Cluster {
	shared := g.sinusoid(0.03, 0)
	mixed := make([]float64, g.config.Timepoints)
	unique := g.sinusoid(0.07, 0.5)
	for t := range mixed {
		mixed[t] = 0.8*shared[t] + 0.6*unique[t]
	}

	specs := []struct {
		name   string
		center [3]int
		signal []float64
	}{
		{"PCC", [3]int{3, 3, 2}, shared},
		{"mPFC", [3]int{8, 3, 2}, mixed},
		{"LIPL", [3]int{3, 8, 3}, g.sinusoid(0.045, 1.1)},
		{"RIPL", [3]int{8, 8, 3}, g.sinusoid(0.09, 2.3)},
	}

	const radius = 1.5
	clusters := make([]Cluster, 0, len(specs))
	for _, s := range specs {
		mx, my, mz := grid.Affine.Apply(float64(s.center[0]), float64(s.center[1]), float64(s.center[2]))
		clusters = append(clusters, Cluster{
			Name:      s.name,
			CenterVox: s.center,
			CenterMM:  [3]float64{mx, my, mz},
			Radius:    radius,
			Indices:   sphereIndices(grid, s.center, radius),
			Signal:    s.signal,
		})
	}
	return clusters
}

func (g *Generator) sinusoid(freqHz, phase float64) []float64 {
	s := make([]float64, g.config.Timepoints)
	for t := range s {
		s[t] = math.Sin(2*math.Pi*freqHz*float64(t)*g.config.TR + phase)
	}
	return s
}

// sphereIndices returns the flat indices within radius voxels of center
func sphereIndices(grid volume.Grid, center [3]int, radius float64) []int {
	var idx []int
	r := int(math.Ceil(radius))
	for k := center[2] - r; k <= center[2]+r; k++ {
		for j := center[1] - r; j <= center[1]+r; j++ {
			for i := center[0] - r; i <= center[0]+r; i++ {
				if !grid.InBounds(i, j, k) {
					continue
				}
				di, dj, dk := float64(i-center[0]), float64(j-center[1]), float64(k-center[2])
				if math.Sqrt(di*di+dj*dj+dk*dk) <= radius {
					idx = append(idx, grid.Index(i, j, k))
				}
			}
		}
	}
	return idx
}

// Confounds builds an fMRIPrep-shaped table: six motion parameters as
// random walks, framewise displacement derived from them with the first
// entry NaN, plus tissue and global signal columns.
func (g *Generator) Confounds(n int) *series.ConfoundTable {
	names := []string{
		"trans_x", "trans_y", "trans_z",
		"rot_x", "rot_y", "rot_z",
		"framewise_displacement",
		"csf", "white_matter", "global_signal",
	}
	data := mat.NewDense(n, len(names), nil)

	walk := make([]float64, 6)
	prev := make([]float64, 6)
	for t := 0; t < n; t++ {
		fd := 0.0
		for p := 0; p < 6; p++ {
			walk[p] += 0.02 * g.rng.NormFloat64()
			data.Set(t, p, walk[p])
			fd += math.Abs(walk[p] - prev[p])
			prev[p] = walk[p]
		}
		if t == 0 {
			data.Set(t, 6, math.NaN())
		} else {
			data.Set(t, 6, fd)
		}
		data.Set(t, 7, g.rng.NormFloat64())
		data.Set(t, 8, g.rng.NormFloat64())
		data.Set(t, 9, g.rng.NormFloat64())
	}
	return &series.ConfoundTable{Names: names, Data: data}
}

// Events builds an alternating block design covering the scan: 20 s of
// "left", a 10 s gap, 20 s of "right", another gap, repeated. The gaps
// leave implicit baseline timepoints for rest selection.
func (g *Generator) Events() *series.EventTable {
	total := float64(g.config.Timepoints) * g.config.TR
	const block, gap = 20.0, 10.0
	conditions := []string{"left", "right"}

	table := &series.EventTable{}
	onset := gap
	for i := 0; onset+block <= total; i++ {
		table.Events = append(table.Events, series.Event{
			Onset:     onset,
			Duration:  block,
			Condition: conditions[i%len(conditions)],
		})
		onset += block + gap
	}
	return table
}

// BrainMask returns a volume marking everything except a one-voxel
// border as brain
func (g *Generator) BrainMask() *volume.Volume {
	grid := g.Grid()
	v := volume.NewVolume(grid)
	for k := 1; k < grid.Nz-1; k++ {
		for j := 1; j < grid.Ny-1; j++ {
			for i := 1; i < grid.Nx-1; i++ {
				v.Set(i, j, k, 1)
			}
		}
	}
	return v
}

// AtlasVolume labels each cluster's voxels with its 1-based index,
// giving a parcellation whose regions coincide with the ground truth
func (g *Generator) AtlasVolume(clusters []Cluster) *volume.Volume {
	v := volume.NewVolume(g.Grid())
	for n, c := range clusters {
		for _, idx := range c.Indices {
			v.Data[idx] = float64(n + 1)
		}
	}
	return v
}
