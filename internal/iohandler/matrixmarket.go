// MatrixMarket coordinate reader/writer (spec §6): the line-oriented
// sparse text format most command-line smurff/macau examples ship
// trained relations in. Grounded on the teacher's io.go
// (LoadCSVToTimeSeries: open, defer Close, typed %w wrapping, scan line
// by line) applied to MatrixMarket's layout instead of CSV.
package iohandler

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/smurff-go/smurff/internal/errs"
)

// SparseMatrix is the minimal shape ReadMatrixMarket/WriteMatrixMarket
// round-trips: row/col indices (0-based) and a parallel value slice.
type SparseMatrix struct {
	NRow, NCol int
	Rows, Cols []int32
	Vals       []float64
}

// ReadMatrixMarket reads a "%%MatrixMarket matrix coordinate real general"
// file: a banner line, an optional run of '%' comment lines, a
// "nrow ncol nnz" header, then nnz "row col val" lines, 1-based per the
// MatrixMarket convention and converted to 0-based on load.
func ReadMatrixMarket(path string) (*SparseMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return nil, errs.Newf(errs.IO, path, "empty MatrixMarket file")
	}
	if !strings.HasPrefix(sc.Text(), "%%MatrixMarket") {
		return nil, errs.Newf(errs.IO, path, "missing %%%%MatrixMarket banner")
	}

	var header string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "%") {
			continue
		}
		header = line
		break
	}
	if header == "" {
		return nil, errs.Newf(errs.IO, path, "missing dimension line")
	}
	nrow, ncol, nnz, err := parseDims(path, header)
	if err != nil {
		return nil, err
	}

	sm := &SparseMatrix{
		NRow: nrow, NCol: ncol,
		Rows: make([]int32, 0, nnz),
		Cols: make([]int32, 0, nnz),
		Vals: make([]float64, 0, nnz),
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, errs.Newf(errs.IO, path, "malformed entry line %q", line)
		}
		r, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errs.New(errs.IO, path, err)
		}
		c, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errs.New(errs.IO, path, err)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errs.New(errs.IO, path, err)
		}
		sm.Rows = append(sm.Rows, int32(r-1))
		sm.Cols = append(sm.Cols, int32(c-1))
		sm.Vals = append(sm.Vals, v)
	}
	if err := sc.Err(); err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	if len(sm.Vals) != nnz {
		return nil, errs.Newf(errs.IO, path, "header declares %d entries, found %d", nnz, len(sm.Vals))
	}
	return sm, nil
}

func parseDims(path, header string) (nrow, ncol, nnz int, err error) {
	fields := strings.Fields(header)
	if len(fields) != 3 {
		return 0, 0, 0, errs.Newf(errs.IO, path, "dimension line %q must have 3 fields", header)
	}
	vals := make([]int, 3)
	for i, f := range fields {
		v, convErr := strconv.Atoi(f)
		if convErr != nil {
			return 0, 0, 0, errs.New(errs.IO, path, convErr)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

// WriteMatrixMarket writes sm in "%%MatrixMarket matrix coordinate real
// general" layout, 1-based indices.
func WriteMatrixMarket(path string, sm *SparseMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.IO, path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "%%MatrixMarket matrix coordinate real general")
	fmt.Fprintf(w, "%d %d %d\n", sm.NRow, sm.NCol, len(sm.Vals))
	for i := range sm.Vals {
		fmt.Fprintf(w, "%d %d %.17g\n", sm.Rows[i]+1, sm.Cols[i]+1, sm.Vals[i])
	}
	if err := w.Flush(); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}
