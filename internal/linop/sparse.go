package linop

import "gonum.org/v1/gonum/mat"

// SparseOperator is a CSR-backed Operator for side-information matrices
// too large or too sparse to store densely (spec §4.2: "K either a dense
// matrix or a sparse side-information operator"). It mirrors the row_ptr
// / cols / vals layout of Eigen::SparseMatrix<double,RowMajor> used by
// the original's A_mul_Bx (_examples/original_source/.../linop.h).
type SparseOperator struct {
	rows, cols int
	rowPtr     []int
	colIdx     []int
	vals       []float64
}

// NewSparseOperatorFromTriplets builds a SparseOperator from (row, col,
// val) triplets, an nobs x nfeat matrix.
func NewSparseOperatorFromTriplets(nobs, nfeat int, rowIdx, colIdx []int, vals []float64) *SparseOperator {
	counts := make([]int, nobs+1)
	for _, r := range rowIdx {
		counts[r+1]++
	}
	for i := 0; i < nobs; i++ {
		counts[i+1] += counts[i]
	}
	rowPtr := counts
	cols := make([]int, len(vals))
	vs := make([]float64, len(vals))
	cursor := make([]int, nobs)
	copy(cursor, rowPtr[:nobs])
	for i, r := range rowIdx {
		pos := cursor[r]
		cols[pos] = colIdx[i]
		vs[pos] = vals[i]
		cursor[r]++
	}
	return &SparseOperator{rows: nobs, cols: nfeat, rowPtr: rowPtr, colIdx: cols, vals: vs}
}

func (s *SparseOperator) Rows() int { return s.rows }
func (s *SparseOperator) Cols() int { return s.cols }

// ApplyRows computes dst = X * Kᵀ using the CSR representation of K, i.e.
// dst[r, row] = sum_{nz in row} K[row,col]*X[r,col].
func (s *SparseOperator) ApplyRows(dst, x *mat.Dense) {
	nrhs, _ := x.Dims()
	dst.Zero()
	for row := 0; row < s.rows; row++ {
		for i := s.rowPtr[row]; i < s.rowPtr[row+1]; i++ {
			col := s.colIdx[i]
			v := s.vals[i]
			for r := 0; r < nrhs; r++ {
				dst.Set(r, row, dst.At(r, row)+v*x.At(r, col))
			}
		}
	}
}

// ApplyRowsTrans computes dst = Y * K using the CSR representation of K,
// i.e. dst[r,col] += K[row,col]*Y[r,row] for every nonzero (row,col).
func (s *SparseOperator) ApplyRowsTrans(dst, y *mat.Dense) {
	nrhs, _ := y.Dims()
	dst.Zero()
	for row := 0; row < s.rows; row++ {
		for i := s.rowPtr[row]; i < s.rowPtr[row+1]; i++ {
			col := s.colIdx[i]
			v := s.vals[i]
			for r := 0; r < nrhs; r++ {
				dst.Set(r, col, dst.At(r, col)+v*y.At(r, row))
			}
		}
	}
}
