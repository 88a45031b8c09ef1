package volume

// Functional is a 4D BOLD image: one scalar per voxel per timepoint.
// Data is stored volume-major (all voxels of timepoint 0, then timepoint 1,
// and so on), each volume x-fastest, matching on-disk NIfTI ordering.
type Functional struct {
	Grid       Grid
	NumVolumes int
	TR         float64 // repetition time in seconds
	Data       []float64
}

// NewFunctional allocates a zero-filled series
func NewFunctional(g Grid, numVolumes int, tr float64) *Functional {
	return &Functional{
		Grid:       g,
		NumVolumes: numVolumes,
		TR:         tr,
		Data:       make([]float64, g.NumVoxels()*numVolumes),
	}
}

// At returns the value at voxel (i, j, k) and timepoint t
func (f *Functional) At(i, j, k, t int) float64 {
	return f.Data[t*f.Grid.NumVoxels()+f.Grid.Index(i, j, k)]
}

// Set writes the value at voxel (i, j, k) and timepoint t
func (f *Functional) Set(i, j, k, t int, value float64) {
	f.Data[t*f.Grid.NumVoxels()+f.Grid.Index(i, j, k)] = value
}

// VoxelSeries copies the full time course of the voxel at flat index idx
// into dst, which must have length NumVolumes.
func (f *Functional) VoxelSeries(idx int, dst []float64) {
	stride := f.Grid.NumVoxels()
	for t := 0; t < f.NumVolumes; t++ {
		dst[t] = f.Data[t*stride+idx]
	}
}

// VolumeAt returns timepoint t as a standalone 3D volume sharing no
// storage with the series.
func (f *Functional) VolumeAt(t int) *Volume {
	stride := f.Grid.NumVoxels()
	v := NewVolume(f.Grid)
	copy(v.Data, f.Data[t*stride:(t+1)*stride])
	return v
}

// MeanOverIndices returns, per timepoint, the mean of the series over the
// given flat voxel indices. Returns nil when idx is empty.
func (f *Functional) MeanOverIndices(idx []int) []float64 {
	if len(idx) == 0 {
		return nil
	}
	stride := f.Grid.NumVoxels()
	out := make([]float64, f.NumVolumes)
	for t := 0; t < f.NumVolumes; t++ {
		base := t * stride
		sum := 0.0
		for _, v := range idx {
			sum += f.Data[base+v]
		}
		out[t] = sum / float64(len(idx))
	}
	return out
}
