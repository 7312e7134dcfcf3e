package prior

import (
	"testing"

	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/linop"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/rng"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// denseRelation builds a fully observed d0 x d1 relation from Y = U^T V,
// for tests that just need some nonzero, well-conditioned data to update
// a prior against.
func denseRelation(t *testing.T, s *rng.Stream, k, d0, d1 int) (*data.Relation, *model.Model) {
	t.Helper()
	m := model.New()
	require.NoError(t, m.Init(k, []int{d0, d1}, model.InitRandom, s))

	var coords [][]int32
	var vals []float64
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			var y float64
			ucol, vcol := m.Col(0, i), m.Col(1, j)
			for kk := 0; kk < k; kk++ {
				y += ucol[kk] * vcol[kk]
			}
			coords = append(coords, []int32{int32(i), int32(j)})
			vals = append(vals, y)
		}
	}
	rel, err := data.NewRelation([]int{d0, d1}, coords, vals)
	require.NoError(t, err)
	return rel, m
}

// TestNormalPrior_UpdatePriorLeavesLambdaSPD exercises spec §8's "for any
// iteration and mode, Lambda is SPD (tested by attempting a Cholesky)"
// invariant.
func TestNormalPrior_UpdatePriorLeavesLambdaSPD(t *testing.T) {
	pool := rng.NewPool(1, 1)
	s := pool.Worker(0)
	k, d0, d1 := 3, 12, 12
	rel, m := denseRelation(t, s, k, d0, d1)
	train := data.New(rel, data.NewFixedGaussianNoise(1e3))

	p := NewNormalPrior(0, k, train, m)
	for iter := 0; iter < 5; iter++ {
		require.NoError(t, p.SampleLatents(pool))
		require.NoError(t, p.UpdatePrior(s))

		var chol mat.Cholesky
		ok := chol.Factorize(p.Lambda)
		require.Truef(t, ok, "Lambda not SPD at iteration %d", iter)
	}
}

// TestSpikeAndSlabPrior_RAndAlphaStayInRange exercises spec §8's
// "r in (0,1) and alpha > 0 elementwise at all times for SpikeAndSlab"
// invariant across several sample/update sweeps.
func TestSpikeAndSlabPrior_RAndAlphaStayInRange(t *testing.T) {
	pool := rng.NewPool(5, 2)
	s := pool.Worker(0)
	k, d0, d1 := 4, 16, 16
	rel, m := denseRelation(t, s, k, d0, d1)
	train := data.New(rel, data.NewFixedGaussianNoise(1e3))

	p := NewSpikeAndSlabPrior(0, k, train, m)
	for iter := 0; iter < 5; iter++ {
		require.NoError(t, p.SampleLatents(pool))
		require.NoError(t, p.UpdatePrior(s))

		for kk := 0; kk < k; kk++ {
			for v := range p.R[kk] {
				require.Greaterf(t, p.R[kk][v], 0.0, "R[%d][%d] <= 0 at iteration %d", kk, v, iter)
				require.Lessf(t, p.R[kk][v], 1.0, "R[%d][%d] >= 1 at iteration %d", kk, v, iter)
				require.Greaterf(t, p.Alpha[kk][v], 0.0, "Alpha[%d][%d] <= 0 at iteration %d", kk, v, iter)
			}
		}
	}
}

// TestMacauPrior_UhatMatchesBetaFt exercises spec §8's "after
// MacauPrior::sample_beta, ||Uhat - beta*F^T||_inf < 1e-8" invariant.
func TestMacauPrior_UhatMatchesBetaFt(t *testing.T) {
	pool := rng.NewPool(9, 1)
	s := pool.Worker(0)
	k, d0, d1 := 3, 20, 10
	rel, m := denseRelation(t, s, k, d0, d1)
	train := data.New(rel, data.NewFixedGaussianNoise(1e3))

	pp := 5
	f := mat.NewDense(d0, pp, nil)
	s.NormalMatrix(f)
	op := linop.DenseOperator{K: f}

	p := NewMacauPrior(0, k, train, m, op)
	require.NoError(t, p.SampleLatents(pool))
	require.NoError(t, p.UpdatePrior(s))

	var want mat.Dense
	want.Mul(p.Beta, f.T())
	for i := 0; i < k; i++ {
		for d := 0; d < d0; d++ {
			require.InDeltaf(t, want.At(i, d), p.Uhat.At(i, d), 1e-8,
				"Uhat[%d][%d] does not match Beta*F^T", i, d)
		}
	}
}
