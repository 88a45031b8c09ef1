package nifti

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"connectomix/domain/volume"
	"connectomix/internal/errors"
)

// WriteVolume stores a 3D image as a float32 single-file NIfTI-1 with
// the grid's affine in the sform, gzip-compressed when the path ends in
// .gz. Parent directories are created.
func (c *Codec) WriteVolume(ctx context.Context, path string, vol *volume.Volume) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.emit(path, vol.Grid, 1, 0, vol.Data); err != nil {
		return err
	}
	c.log.Debug("wrote %s: %dx%dx%d", path, vol.Grid.Nx, vol.Grid.Ny, vol.Grid.Nz)
	return nil
}

// WriteFunctional stores a 4D series the same way, with the repetition
// time in pixdim[4]
func (c *Codec) WriteFunctional(ctx context.Context, path string, f *volume.Functional) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.emit(path, f.Grid, f.NumVolumes, f.TR, f.Data); err != nil {
		return err
	}
	c.log.Debug("wrote %s: %dx%dx%d, %d volumes", path, f.Grid.Nx, f.Grid.Ny, f.Grid.Nz, f.NumVolumes)
	return nil
}

func (c *Codec) emit(path string, g volume.Grid, numVolumes int, tr float64, data []float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WriteFailed(path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	buf := bufio.NewWriter(w)

	if err := writeImage(buf, g, numVolumes, tr, data); err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := buf.Flush(); err != nil {
		return errors.WriteFailed(path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.WriteFailed(path, err)
		}
	}
	return nil
}

// writeImage emits header, the empty extension flag and the voxel data
// in little-endian float32
func writeImage(w io.Writer, g volume.Grid, numVolumes int, tr float64, data []float64) error {
	h := newVolumeHeader(g, numVolumes, tr)
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	// four zero bytes: no header extensions
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	values := make([]float32, len(data))
	for i, v := range data {
		values[i] = float32(v)
	}
	return binary.Write(w, binary.LittleEndian, values)
}
