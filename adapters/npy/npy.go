// Package npy stores connectivity matrices as NumPy arrays and loads
// externally computed censor masks, so estimates round trip with the
// numerical Python tooling that consumes them downstream.
package npy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"connectomix/domain/connectivity"
	"connectomix/internal"
	"connectomix/internal/errors"

	"github.com/kshedden/gonpy"
)

// Store reads and writes .npy arrays. It satisfies the matrix writer
// and mask reader ports.
type Store struct {
	log *internal.Logger
}

// NewStore creates a store
func NewStore(logger *internal.Logger) *Store {
	return &Store{log: logger.WithPrefix("npy")}
}

// WriteMatrix persists a connectivity estimate as a square float64
// array in .npy version 2 format
func (s *Store) WriteMatrix(ctx context.Context, path string, m *connectivity.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return errors.WriteFailed(path, err)
	}
	n := m.Dim()
	w.Shape = []int{n, n}
	w.Version = 2
	if err := w.WriteFloat64(m.Dense()); err != nil {
		return errors.WriteFailed(path, err)
	}
	s.log.Debug("wrote %dx%d %s matrix to %s", n, n, m.Measure, path)
	return nil
}

// ReadMask loads a one dimensional 0/1 vector as a volume retain mask.
// Any numeric dtype works, nonzero means retained.
func (s *Store) ReadMask(ctx context.Context, path string) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, errors.ReadFailed(path, err)
	}
	if len(r.Shape) != 1 {
		return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s has shape %v, expected a 1D mask", path, r.Shape))
	}

	mask, err := decodeMask(r)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	s.log.Debug("read %d volume mask from %s", len(mask), path)
	return mask, nil
}

func decodeMask(r *gonpy.NpyReader) ([]bool, error) {
	switch r.Dtype {
	case "f8":
		v, err := r.GetFloat64()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	case "f4":
		v, err := r.GetFloat32()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	case "i8":
		v, err := r.GetInt64()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	case "i4":
		v, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	case "i2":
		v, err := r.GetInt16()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	case "i1":
		v, err := r.GetInt8()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	case "u1":
		v, err := r.GetUint8()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(v))
		for i, x := range v {
			mask[i] = x != 0
		}
		return mask, nil
	default:
		return nil, fmt.Errorf("unsupported mask dtype %q", r.Dtype)
	}
}
