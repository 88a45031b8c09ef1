package npy

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"connectomix/domain/connectivity"
	"connectomix/internal"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
)

func testStore() *Store {
	return NewStore(internal.NewLogger(internal.LogLevelError))
}

func TestWriteMatrixRoundTrip(t *testing.T) {
	data := mat.NewSymDense(3, []float64{
		1.0, 0.5, -0.25,
		0.5, 1.0, 0.75,
		-0.25, 0.75, 1.0,
	})
	m, err := connectivity.NewMatrix(connectivity.MeasureCorrelation, []string{"a", "b", "c"}, data, connectivity.Provenance{})
	if err != nil {
		t.Fatalf("NewMatrix: %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "matrix.npy")
	if err := testStore().WriteMatrix(context.Background(), path, m); err != nil {
		t.Fatalf("WriteMatrix: %v", err)
	}

	r, err := gonpy.NewFileReader(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(r.Shape) != 2 || r.Shape[0] != 3 || r.Shape[1] != 3 {
		t.Fatalf("shape = %v, want [3 3]", r.Shape)
	}
	got, err := r.GetFloat64()
	if err != nil {
		t.Fatalf("GetFloat64: %v", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(got[i*3+j]-m.At(i, j)) > 1e-12 {
				t.Errorf("cell (%d,%d) = %v, want %v", i, j, got[i*3+j], m.At(i, j))
			}
		}
	}
}

func TestReadMaskFloat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.npy")
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w.WriteFloat64([]float64{1, 0, 1, 1, 0}); err != nil {
		t.Fatalf("WriteFloat64: %v", err)
	}

	mask, err := testStore().ReadMask(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadMask: %v", err)
	}
	want := []bool{true, false, true, true, false}
	if len(mask) != len(want) {
		t.Fatalf("len = %d, want %d", len(mask), len(want))
	}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
}

func TestReadMaskIntegerDtypes(t *testing.T) {
	dir := t.TempDir()

	i8 := filepath.Join(dir, "mask_i8.npy")
	w, err := gonpy.NewFileWriter(i8)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w.WriteInt64([]int64{0, 1, 2}); err != nil {
		t.Fatalf("WriteInt64: %v", err)
	}

	u1 := filepath.Join(dir, "mask_u1.npy")
	w, err = gonpy.NewFileWriter(u1)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w.WriteUint8([]uint8{1, 0, 1}); err != nil {
		t.Fatalf("WriteUint8: %v", err)
	}

	store := testStore()
	mask, err := store.ReadMask(context.Background(), i8)
	if err != nil {
		t.Fatalf("ReadMask int64: %v", err)
	}
	if !mask[1] || !mask[2] || mask[0] {
		t.Errorf("int64 mask = %v, nonzero must read as retained", mask)
	}

	mask, err = store.ReadMask(context.Background(), u1)
	if err != nil {
		t.Fatalf("ReadMask uint8: %v", err)
	}
	if !mask[0] || mask[1] || !mask[2] {
		t.Errorf("uint8 mask = %v", mask)
	}
}

func TestReadMaskRejectsTwoDimensional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.npy")
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	w.Shape = []int{2, 2}
	if err := w.WriteFloat64([]float64{1, 0, 0, 1}); err != nil {
		t.Fatalf("WriteFloat64: %v", err)
	}

	_, err = testStore().ReadMask(context.Background(), path)
	if err == nil {
		t.Fatal("expected an error for a 2D array")
	}
	if !strings.Contains(err.Error(), "1D") {
		t.Errorf("error %q should name the expected dimensionality", err)
	}
}

func TestReadMaskMissingFile(t *testing.T) {
	_, err := testStore().ReadMask(context.Background(), filepath.Join(t.TempDir(), "absent.npy"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
