package ports

import (
	"context"

	"connectomix/domain/volume"
)

// VolumeReaderPort loads neuroimaging volumes from disk. Implementations
// apply any on-disk scaling so callers always see physical values.
type VolumeReaderPort interface {
	// ReadFunctional loads a 4D series. TR comes from the caller when the
	// sidecar provides it; pass 0 to fall back to the file header.
	ReadFunctional(ctx context.Context, path string, tr float64) (*volume.Functional, error)

	// ReadVolume loads a 3D image (mask or atlas)
	ReadVolume(ctx context.Context, path string) (*volume.Volume, error)
}

// VolumeWriterPort persists a 3D image
type VolumeWriterPort interface {
	WriteVolume(ctx context.Context, path string, vol *volume.Volume) error
}

// VolumePort combines volume read and write access
type VolumePort interface {
	VolumeReaderPort
	VolumeWriterPort
}
