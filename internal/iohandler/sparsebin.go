// Binary sparse matrix/tensor dumps (spec §6): the
// [int32 nrow][int32 ncol][int64 nnz][{int32 row, int32 col, f64 val}*]
// layout for matrices, and the analogous n-mode tensor framing
// [int32 nmodes][int32 dims...][int64 nnz][{int32 idx_0..idx_{n-1}, f64 val}*].
package iohandler

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/smurff-go/smurff/internal/errs"
)

// WriteSparseBin writes sm in the binary sparse-matrix layout named by
// spec §6.
func WriteSparseBin(path string, sm *SparseMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.IO, path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeInt32(w, path, int32(sm.NRow)); err != nil {
		return err
	}
	if err := writeInt32(w, path, int32(sm.NCol)); err != nil {
		return err
	}
	if err := writeInt64(w, path, int64(len(sm.Vals))); err != nil {
		return err
	}
	for i := range sm.Vals {
		if err := writeInt32(w, path, sm.Rows[i]); err != nil {
			return err
		}
		if err := writeInt32(w, path, sm.Cols[i]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, sm.Vals[i]); err != nil {
			return errs.New(errs.IO, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

// ReadSparseBin reads back the layout WriteSparseBin writes.
func ReadSparseBin(path string) (*SparseMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	nrow, err := readInt32(r, path)
	if err != nil {
		return nil, err
	}
	ncol, err := readInt32(r, path)
	if err != nil {
		return nil, err
	}
	nnz, err := readInt64(r, path)
	if err != nil {
		return nil, err
	}

	sm := &SparseMatrix{
		NRow: int(nrow), NCol: int(ncol),
		Rows: make([]int32, nnz), Cols: make([]int32, nnz), Vals: make([]float64, nnz),
	}
	for i := int64(0); i < nnz; i++ {
		row, err := readInt32(r, path)
		if err != nil {
			return nil, err
		}
		col, err := readInt32(r, path)
		if err != nil {
			return nil, err
		}
		var val float64
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return nil, errs.New(errs.IO, path, err)
		}
		sm.Rows[i], sm.Cols[i], sm.Vals[i] = row, col, val
	}
	return sm, nil
}

// SparseTensor is the n-mode analogue of SparseMatrix: one coordinate
// tuple (observation-major) per nonzero, plus the per-mode dims.
type SparseTensor struct {
	Dims   []int
	Coords [][]int32 // Coords[i] has len(Dims) entries
	Vals   []float64
}

// WriteTensorBin writes t in the binary tensor layout of spec §6.
func WriteTensorBin(path string, t *SparseTensor) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.IO, path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeInt32(w, path, int32(len(t.Dims))); err != nil {
		return err
	}
	for _, d := range t.Dims {
		if err := writeInt32(w, path, int32(d)); err != nil {
			return err
		}
	}
	if err := writeInt64(w, path, int64(len(t.Vals))); err != nil {
		return err
	}
	for i, v := range t.Vals {
		for _, idx := range t.Coords[i] {
			if err := writeInt32(w, path, idx); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errs.New(errs.IO, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

// ReadTensorBin reads back the layout WriteTensorBin writes.
func ReadTensorBin(path string) (*SparseTensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	nmodes, err := readInt32(r, path)
	if err != nil {
		return nil, err
	}
	dims := make([]int, nmodes)
	for i := range dims {
		d, err := readInt32(r, path)
		if err != nil {
			return nil, err
		}
		dims[i] = int(d)
	}
	nnz, err := readInt64(r, path)
	if err != nil {
		return nil, err
	}

	t := &SparseTensor{Dims: dims, Coords: make([][]int32, nnz), Vals: make([]float64, nnz)}
	for i := int64(0); i < nnz; i++ {
		coord := make([]int32, nmodes)
		for m := range coord {
			v, err := readInt32(r, path)
			if err != nil {
				return nil, err
			}
			coord[m] = v
		}
		var val float64
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return nil, errs.New(errs.IO, path, err)
		}
		t.Coords[i] = coord
		t.Vals[i] = val
	}
	return t, nil
}

func writeInt32(w *bufio.Writer, path string, v int32) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

func writeInt64(w *bufio.Writer, path string, v int64) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

func readInt32(r *bufio.Reader, path string) (int32, error) {
	var v int32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, errs.New(errs.IO, path, err)
	}
	return v, nil
}

func readInt64(r *bufio.Reader, path string) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, errs.New(errs.IO, path, err)
	}
	return v, nil
}
