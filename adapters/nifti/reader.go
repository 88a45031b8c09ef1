package nifti

import (
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"connectomix/domain/volume"
	"connectomix/internal"
	"connectomix/internal/errors"
)

// Codec loads and stores NIfTI-1 images. It satisfies the volume ports.
type Codec struct {
	log *internal.Logger
}

// NewCodec creates a codec
func NewCodec(logger *internal.Logger) *Codec {
	return &Codec{log: logger.WithPrefix("nifti")}
}

// ReadFunctional loads a 4D series. When tr is 0 the header's pixdim[4]
// is used instead, with a warning since sidecar metadata is the
// authoritative source.
func (c *Codec) ReadFunctional(ctx context.Context, path string, tr float64) (*volume.Functional, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := readAll(path)
	if err != nil {
		return nil, err
	}
	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	if h.Dim[0] != 4 {
		return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s is %dD, expected a 4D functional image", path, h.Dim[0]))
	}
	numVolumes := int(h.Dim[4])
	if numVolumes < 1 {
		return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s has %d volumes", path, numVolumes))
	}

	if tr <= 0 {
		tr = float64(h.Pixdim[4])
		c.log.Warn("no repetition time supplied for %s, using header pixdim[4] = %gs", path, tr)
	}

	g := h.grid()
	values, err := decodeValues(raw, h, order, g.NumVoxels()*numVolumes)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	f := &volume.Functional{Grid: g, NumVolumes: numVolumes, TR: tr, Data: values}
	c.log.Debug("loaded %s: %dx%dx%d, %d volumes, TR %gs", path, g.Nx, g.Ny, g.Nz, numVolumes, tr)
	return f, nil
}

// ReadVolume loads a 3D image. A 4D file with a single volume is
// accepted, since masks are sometimes stored that way.
func (c *Codec) ReadVolume(ctx context.Context, path string) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := readAll(path)
	if err != nil {
		return nil, err
	}
	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	if h.Dim[0] == 4 && h.Dim[4] > 1 {
		return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s holds %d volumes, expected a 3D image", path, h.Dim[4]))
	}
	if h.Dim[0] != 3 && h.Dim[0] != 4 {
		return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s is %dD, expected a 3D image", path, h.Dim[0]))
	}

	g := h.grid()
	values, err := decodeValues(raw, h, order, g.NumVoxels())
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	if _, fromSform := h.affine(); !fromSform {
		c.log.Warn("%s carries no sform, affine falls back to voxel scaling", path)
	}
	return &volume.Volume{Grid: g, Data: values}, nil
}

// readAll slurps a possibly gzip-compressed file
func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ReadFailed(path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.ReadFailed(path, err)
		}
		defer gz.Close()
		r = gz
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.ReadFailed(path, err)
	}
	return raw, nil
}

// bytesPerValue maps a datatype code to its element width
func bytesPerValue(datatype int16) (int, error) {
	switch datatype {
	case dtUint8:
		return 1, nil
	case dtInt16:
		return 2, nil
	case dtInt32, dtFloat32:
		return 4, nil
	case dtFloat64:
		return 8, nil
	}
	return 0, errors.New(errors.CodeParseFailed, fmt.Sprintf("unsupported nifti datatype %d", datatype))
}

// decodeValues converts on-disk voxel data to float64, applying the
// header's scl_slope/scl_inter scaling
func decodeValues(raw []byte, h header, order binary.ByteOrder, count int) ([]float64, error) {
	width, err := bytesPerValue(h.Datatype)
	if err != nil {
		return nil, err
	}
	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	if need := offset + count*width; len(raw) < need {
		return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("truncated voxel data: need %d bytes, have %d", need, len(raw)))
	}

	data := raw[offset:]
	out := make([]float64, count)
	switch h.Datatype {
	case dtUint8:
		for i := range out {
			out[i] = float64(data[i])
		}
	case dtInt16:
		for i := range out {
			out[i] = float64(int16(order.Uint16(data[2*i:])))
		}
	case dtInt32:
		for i := range out {
			out[i] = float64(int32(order.Uint32(data[4*i:])))
		}
	case dtFloat32:
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(data[4*i:])))
		}
	case dtFloat64:
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(data[8*i:]))
		}
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i := range out {
			out[i] = slope*out[i] + inter
		}
	}
	return out, nil
}
