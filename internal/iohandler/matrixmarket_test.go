package iohandler

import (
	"path/filepath"
	"testing"
)

func TestMatrixMarket_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.mtx")

	sm := &SparseMatrix{
		NRow: 3, NCol: 4,
		Rows: []int32{0, 1, 2},
		Cols: []int32{0, 2, 3},
		Vals: []float64{1.5, -2.25, 3},
	}
	if err := WriteMatrixMarket(path, sm); err != nil {
		t.Fatalf("WriteMatrixMarket: %v", err)
	}
	got, err := ReadMatrixMarket(path)
	if err != nil {
		t.Fatalf("ReadMatrixMarket: %v", err)
	}
	if got.NRow != sm.NRow || got.NCol != sm.NCol || len(got.Vals) != len(sm.Vals) {
		t.Fatalf("dims mismatch: got %+v", got)
	}
	for i := range sm.Vals {
		if got.Rows[i] != sm.Rows[i] || got.Cols[i] != sm.Cols[i] || got.Vals[i] != sm.Vals[i] {
			t.Errorf("entry %d mismatch: got (%d,%d,%v), want (%d,%d,%v)", i, got.Rows[i], got.Cols[i], got.Vals[i], sm.Rows[i], sm.Cols[i], sm.Vals[i])
		}
	}
}

func TestSparseBin_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.sbin")

	sm := &SparseMatrix{
		NRow: 2, NCol: 2,
		Rows: []int32{0, 1},
		Cols: []int32{1, 0},
		Vals: []float64{4, -1},
	}
	if err := WriteSparseBin(path, sm); err != nil {
		t.Fatalf("WriteSparseBin: %v", err)
	}
	got, err := ReadSparseBin(path)
	if err != nil {
		t.Fatalf("ReadSparseBin: %v", err)
	}
	if got.NRow != 2 || got.NCol != 2 || len(got.Vals) != 2 {
		t.Fatalf("dims mismatch: %+v", got)
	}
}

func TestTensorBin_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.tbin")

	tensor := &SparseTensor{
		Dims:   []int{2, 3, 4},
		Coords: [][]int32{{0, 1, 2}, {1, 2, 3}},
		Vals:   []float64{1, 2},
	}
	if err := WriteTensorBin(path, tensor); err != nil {
		t.Fatalf("WriteTensorBin: %v", err)
	}
	got, err := ReadTensorBin(path)
	if err != nil {
		t.Fatalf("ReadTensorBin: %v", err)
	}
	if len(got.Dims) != 3 || got.Dims[2] != 4 {
		t.Fatalf("dims mismatch: %+v", got.Dims)
	}
	if len(got.Coords) != 2 || got.Coords[1][2] != 3 {
		t.Fatalf("coords mismatch: %+v", got.Coords)
	}
}
