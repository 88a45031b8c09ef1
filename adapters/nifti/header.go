// Package nifti reads and writes NIfTI-1 volumes, the on-disk format of
// every spatial input and output. Single-file images only (magic "n+1"),
// gzip-compressed or plain by file extension.
package nifti

import (
	"bytes"
	"encoding/binary"

	"connectomix/domain/volume"
	"connectomix/internal/errors"
)

// header is the 348-byte NIfTI-1 header, field for field as defined in
// the reference nifti1.h. Unused fields must stay to keep the binary
// layout exact.
type header struct {
	SizeofHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8
	Dim                [8]int16
	IntentP1           float32
	IntentP2           float32
	IntentP3           float32
	IntentCode         int16
	Datatype           int16
	Bitpix             int16
	SliceStart         int16
	Pixdim             [8]float32
	VoxOffset          float32
	SclSlope           float32
	SclInter           float32
	SliceEnd           int16
	SliceCode          int8
	XyztUnits          int8
	CalMax             float32
	CalMin             float32
	SliceDuration      float32
	Toffset            float32
	UnusedGlmax        int32
	UnusedGlmin        int32
	Descrip            [80]int8
	AuxFile            [24]int8
	QformCode          int16
	SformCode          int16
	QuaternB           float32
	QuaternC           float32
	QuaternD           float32
	QoffsetX           float32
	QoffsetY           float32
	QoffsetZ           float32
	SrowX              [4]float32
	SrowY              [4]float32
	SrowZ              [4]float32
	IntentName         [16]int8
	Magic              [4]int8
}

const (
	headerSize = 348
	// voxOffset is where voxel data starts in files we write: the header
	// plus the 4-byte empty extension flag
	voxOffset = 352
)

// NIfTI-1 datatype codes we accept
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

var magicSingleFile = [4]int8{'n', '+', '1', 0}

// spatial and temporal units: millimeters and seconds
const unitsMMSec = 2 | 8

// decodeHeader parses the header from raw bytes, detecting byte order
// from the dim[0] in [1, 7] heuristic: a value outside that range means
// the file was written with the opposite endianness.
func decodeHeader(raw []byte) (header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return header{}, nil, errors.New(errors.CodeParseFailed, "nifti file shorter than 348 bytes")
	}
	var h header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &h); err != nil {
		return header{}, nil, err
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &h); err != nil {
			return header{}, nil, err
		}
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return header{}, nil, errors.New(errors.CodeParseFailed, "nifti dim[0] outside [1, 7] in both byte orders")
	}
	if h.SizeofHdr != headerSize {
		return header{}, nil, errors.New(errors.CodeParseFailed, "nifti sizeof_hdr is not 348")
	}
	if h.Magic != magicSingleFile {
		return header{}, nil, errors.New(errors.CodeParseFailed, "not a single-file nifti-1 image (magic is not n+1)")
	}
	return h, order, nil
}

// affine derives the voxel-to-mm transform: the sform rows when set,
// otherwise plain pixdim scaling
func (h *header) affine() (volume.Affine, bool) {
	if h.SformCode > 0 {
		a := volume.IdentityAffine()
		for col := 0; col < 4; col++ {
			a[0][col] = float64(h.SrowX[col])
			a[1][col] = float64(h.SrowY[col])
			a[2][col] = float64(h.SrowZ[col])
		}
		return a, true
	}
	return volume.ScalingAffine(float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])), false
}

// grid derives the spatial grid from dims and affine
func (h *header) grid() volume.Grid {
	affine, _ := h.affine()
	return volume.Grid{
		Nx:     int(h.Dim[1]),
		Ny:     int(h.Dim[2]),
		Nz:     int(h.Dim[3]),
		Affine: affine,
	}
}

// newVolumeHeader builds the header for a float32 single-file image of
// the given grid, 3D or 4D
func newVolumeHeader(g volume.Grid, numVolumes int, tr float64) header {
	ndim := int16(3)
	nt := int16(1)
	if numVolumes > 1 {
		ndim = 4
		nt = int16(numVolumes)
	}
	sizes := g.Affine.VoxelSizes()

	h := header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{ndim, int16(g.Nx), int16(g.Ny), int16(g.Nz), nt, 1, 1, 1},
		Datatype:  dtFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, float32(sizes[0]), float32(sizes[1]), float32(sizes[2]), float32(tr), 0, 0, 0},
		VoxOffset: voxOffset,
		SclSlope:  1,
		SclInter:  0,
		XyztUnits: unitsMMSec,
		SformCode: 2, // aligned to some anatomy
		Magic:     magicSingleFile,
	}
	for col := 0; col < 4; col++ {
		h.SrowX[col] = float32(g.Affine[0][col])
		h.SrowY[col] = float32(g.Affine[1][col])
		h.SrowZ[col] = float32(g.Affine[2][col])
	}
	return h
}
