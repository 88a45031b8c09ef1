package connectivity

import "connectomix/domain/core"

// Method identifies the analysis shape. It is fixed when the
// configuration is loaded; nothing downstream branches on raw config
// strings.
type Method string

const (
	MethodSeedToVoxel Method = "seedToVoxel"
	MethodRoiToVoxel  Method = "roiToVoxel"
	MethodSeedToSeed  Method = "seedToSeed"
	MethodRoiToRoi    Method = "roiToRoi"
)

// ParseMethod validates a configured method token
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodSeedToVoxel, MethodRoiToVoxel, MethodSeedToSeed, MethodRoiToRoi:
		return Method(s), nil
	}
	return "", core.NewConfigurationError("unknown method %q (want seedToVoxel, roiToVoxel, seedToSeed or roiToRoi)", s)
}

// IsVoxelwise reports whether the method produces per-voxel maps rather
// than a region x region matrix
func (m Method) IsVoxelwise() bool {
	return m == MethodSeedToVoxel || m == MethodRoiToVoxel
}

// UsesSeeds reports whether regions come from a seed list rather than a
// mask or atlas
func (m Method) UsesSeeds() bool {
	return m == MethodSeedToVoxel || m == MethodSeedToSeed
}
