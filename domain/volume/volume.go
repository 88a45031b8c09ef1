package volume

import "sort"

// Volume is a single 3D image on a grid. Data is stored x-fastest in a
// flat slice of length Grid.NumVoxels().
type Volume struct {
	Grid Grid
	Data []float64
}

// NewVolume allocates a zero-filled volume on the given grid
func NewVolume(g Grid) *Volume {
	return &Volume{Grid: g, Data: make([]float64, g.NumVoxels())}
}

// At returns the value at voxel (i, j, k)
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Grid.Index(i, j, k)]
}

// Set writes the value at voxel (i, j, k)
func (v *Volume) Set(i, j, k int, value float64) {
	v.Data[v.Grid.Index(i, j, k)] = value
}

// Binarize returns the flat indices of voxels strictly greater than
// threshold. Brain masks and region masks use threshold 0.
func (v *Volume) Binarize(threshold float64) []int {
	idx := make([]int, 0, len(v.Data)/8)
	for i, val := range v.Data {
		if val > threshold {
			idx = append(idx, i)
		}
	}
	return idx
}

// Labels returns the sorted distinct positive integer values present in
// the volume. Non-integer and non-positive voxels are ignored; atlas
// volumes encode parcels as positive integer labels with 0 background.
func (v *Volume) Labels() []int {
	seen := make(map[int]bool)
	for _, val := range v.Data {
		label := int(val)
		if label > 0 && float64(label) == val {
			seen[label] = true
		}
	}
	out := make([]int, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Ints(out)
	return out
}

// LabelIndices returns the flat indices of voxels carrying the given label
func (v *Volume) LabelIndices(label int) []int {
	target := float64(label)
	idx := make([]int, 0, 64)
	for i, val := range v.Data {
		if val == target {
			idx = append(idx, i)
		}
	}
	return idx
}
