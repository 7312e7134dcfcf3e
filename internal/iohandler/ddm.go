// Package iohandler reads and writes the matrix, tensor and checkpoint
// file formats named in spec §6: MatrixMarket coordinate files, a binary
// sparse dump, the dense ".ddm" dump, and a tensor binary dump. It is an
// external collaborator — Session and Model call into it, but none of
// the sampling logic lives here.
package iohandler

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/smurff-go/smurff/internal/errs"
	"gonum.org/v1/gonum/mat"
)

// WriteDDM writes m to path in the dense binary format
// [int32 nrow][int32 ncol][f64 values row-major].
func WriteDDM(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.IO, path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	rows, cols := m.Dims()
	if err := binary.Write(w, binary.LittleEndian, int32(rows)); err != nil {
		return errs.New(errs.IO, path, err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(cols)); err != nil {
		return errs.New(errs.IO, path, err)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if err := binary.Write(w, binary.LittleEndian, m.At(i, j)); err != nil {
				return errs.New(errs.IO, path, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

// ReadDDM reads the dense binary format written by WriteDDM. If dst is
// non-nil and already the right shape, it is overwritten in place;
// otherwise a new *mat.Dense is allocated.
func ReadDDM(path string, dst *mat.Dense) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var rows, cols int32
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
		return nil, errs.New(errs.IO, path, err)
	}

	data := make([]float64, int(rows)*int(cols))
	for i := range data {
		if err := binary.Read(r, binary.LittleEndian, &data[i]); err != nil {
			if err == io.EOF {
				return nil, errs.Newf(errs.IO, path, "truncated .ddm file")
			}
			return nil, errs.New(errs.IO, path, err)
		}
	}

	if dst != nil {
		r0, c0 := dst.Dims()
		if r0 == int(rows) && c0 == int(cols) {
			dst.Copy(mat.NewDense(int(rows), int(cols), data))
			return dst, nil
		}
	}
	return mat.NewDense(int(rows), int(cols), data), nil
}
