package linop

import (
	"testing"

	"github.com/smurff-go/smurff/internal/rng"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// randomDense fills an nobs x nfeat matrix with i.i.d. N(0,1) entries.
func randomDense(s *rng.Stream, nobs, nfeat int) *mat.Dense {
	d := mat.NewDense(nobs, nfeat, nil)
	s.NormalMatrix(d)
	return d
}

// TestSolveBlockCG_SatisfiesResidualBound exercises spec §8's block-CG
// algorithmic law: for a randomly generated SPD A = KᵀK + reg·I and B,
// the returned X satisfies ||AX-B||_F <= tol*||B||_F, or the function
// reports non-convergence.
func TestSolveBlockCG_SatisfiesResidualBound(t *testing.T) {
	s := rng.NewPool(7, 1).Worker(0)
	nobs, nfeat, nrhs := 20, 8, 5
	k := DenseOperator{K: randomDense(s, nobs, nfeat)}
	reg := 1.0
	b := randomDense(s, nrhs, nfeat)

	opts := DefaultCGOptions()
	x, res, err := SolveBlockCG(k, reg, b, opts)
	require.NoError(t, err)

	// Recompute A = KᵀK + reg·I explicitly and check ||AX-B||_F.
	var kt mat.Dense
	kt.Mul(k.K.T(), k.K)
	a := mat.NewDense(nfeat, nfeat, nil)
	a.Copy(&kt)
	for i := 0; i < nfeat; i++ {
		a.Set(i, i, a.At(i, i)+reg)
	}

	var ax mat.Dense
	ax.Mul(x, a.T()) // X is nrhs x nfeat, rows are RHS; AX per-row means X * Aᵀ = X * A (A symmetric)

	var resid mat.Dense
	resid.Sub(&ax, b)

	residNorm := mat.Norm(&resid, 2)
	bNorm := mat.Norm(b, 2)
	if !res.Converged {
		t.Logf("block-CG reported non-convergence after %d iterations", res.Iterations)
		return
	}
	require.LessOrEqualf(t, residNorm, opts.Tol*bNorm, "residual %v exceeds tol*||B|| bound", residNorm)
}

// TestSolveBlockCG_ParallelMatchesSerial checks that tiling the column
// updates across workers (spec §4.2's 64-column blocks processed in
// parallel) does not change the numerical result.
func TestSolveBlockCG_ParallelMatchesSerial(t *testing.T) {
	s := rng.NewPool(11, 1).Worker(0)
	nobs, nfeat, nrhs := 30, 130, 3
	k := DenseOperator{K: randomDense(s, nobs, nfeat)}
	b := randomDense(s, nrhs, nfeat)

	serialOpts := DefaultCGOptions()
	serialOpts.NumWorkers = 1
	xSerial, _, err := SolveBlockCG(k, 1.0, b, serialOpts)
	require.NoError(t, err)

	parallelOpts := DefaultCGOptions()
	parallelOpts.NumWorkers = 4
	xParallel, _, err := SolveBlockCG(k, 1.0, b, parallelOpts)
	require.NoError(t, err)

	r, c := xSerial.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			require.InDelta(t, xSerial.At(i, j), xParallel.At(i, j), 1e-9)
		}
	}
}

// TestSparseOperator_MatchesDenseOperator checks that the CSR-backed
// SparseOperator computes the same ApplyRows/ApplyRowsTrans results as
// the equivalent DenseOperator over the same matrix.
func TestSparseOperator_MatchesDenseOperator(t *testing.T) {
	nobs, nfeat := 4, 3
	dense := mat.NewDense(nobs, nfeat, []float64{
		1, 0, 2,
		0, 3, 0,
		4, 0, 0,
		0, 5, 6,
	})
	var rowIdx, colIdx []int
	var vals []float64
	for i := 0; i < nobs; i++ {
		for j := 0; j < nfeat; j++ {
			if v := dense.At(i, j); v != 0 {
				rowIdx = append(rowIdx, i)
				colIdx = append(colIdx, j)
				vals = append(vals, v)
			}
		}
	}
	sparse := NewSparseOperatorFromTriplets(nobs, nfeat, rowIdx, colIdx, vals)
	require.Equal(t, nobs, sparse.Rows())
	require.Equal(t, nfeat, sparse.Cols())

	x := mat.NewDense(2, nfeat, []float64{1, 2, 3, 4, 5, 6})
	var wantRows, gotRows mat.Dense
	wantRows.CloneFrom(mat.NewDense(2, nobs, nil))
	gotRows.CloneFrom(mat.NewDense(2, nobs, nil))
	DenseOperator{K: dense}.ApplyRows(&wantRows, x)
	sparse.ApplyRows(&gotRows, x)
	for i := 0; i < 2; i++ {
		for j := 0; j < nobs; j++ {
			require.InDelta(t, wantRows.At(i, j), gotRows.At(i, j), 1e-12)
		}
	}

	y := mat.NewDense(2, nobs, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	var wantCols, gotCols mat.Dense
	wantCols.CloneFrom(mat.NewDense(2, nfeat, nil))
	gotCols.CloneFrom(mat.NewDense(2, nfeat, nil))
	DenseOperator{K: dense}.ApplyRowsTrans(&wantCols, y)
	sparse.ApplyRowsTrans(&gotCols, y)
	for i := 0; i < 2; i++ {
		for j := 0; j < nfeat; j++ {
			require.InDelta(t, wantCols.At(i, j), gotCols.At(i, j), 1e-12)
		}
	}
}

// TestAtAMulB_MatchesDirectComputation checks AtAMulB's fused kernel
// against a direct (AᵀA)B + reg·B computation.
func TestAtAMulB_MatchesDirectComputation(t *testing.T) {
	s := rng.NewPool(3, 1).Worker(0)
	nobs, nfeat, nrhs := 10, 6, 2
	k := DenseOperator{K: randomDense(s, nobs, nfeat)}
	reg := 0.5
	b := randomDense(s, nrhs, nfeat)

	out := mat.NewDense(nrhs, nfeat, nil)
	tmp := mat.NewDense(nrhs, nobs, nil)
	AtAMulB(out, k, reg, b, tmp)

	var ata mat.Dense
	ata.Mul(k.K.T(), k.K)
	var want mat.Dense
	want.Mul(b, &ata)
	for i := 0; i < nrhs; i++ {
		for j := 0; j < nfeat; j++ {
			want.Set(i, j, want.At(i, j)+reg*b.At(i, j))
		}
	}

	for i := 0; i < nrhs; i++ {
		for j := 0; j < nfeat; j++ {
			require.InDelta(t, want.At(i, j), out.At(i, j), 1e-9)
		}
	}
}
