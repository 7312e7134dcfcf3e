package session

import (
	"testing"

	"github.com/smurff-go/smurff/internal/config"
	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/prior"
	"github.com/smurff-go/smurff/internal/rng"
	"github.com/stretchr/testify/require"
)

// denseTrainRelation builds a fully observed D0 x D1 relation from
// Y = U^T V, the shape spec §8 scenario 1 ("Dense recovery") asks for.
func denseTrainRelation(t *testing.T, u, v *rngMatrix) *data.Relation {
	t.Helper()
	d0, d1 := len(u.cols), len(v.cols)
	coords := make([][]int32, 0, d0*d1)
	vals := make([]float64, 0, d0*d1)
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			var y float64
			for k := range u.cols[i] {
				y += u.cols[i][k] * v.cols[j][k]
			}
			coords = append(coords, []int32{int32(i), int32(j)})
			vals = append(vals, y)
		}
	}
	rel, err := data.NewRelation([]int{d0, d1}, coords, vals)
	require.NoError(t, err)
	return rel
}

// rngMatrix is a tiny fixture generator standing in for a ground-truth
// factor matrix (K x D), exposed column-major as cols[d] = length-K.
type rngMatrix struct {
	cols [][]float64
}

func randomFactor(s *rng.Stream, k, d int) *rngMatrix {
	m := &rngMatrix{cols: make([][]float64, d)}
	for j := range m.cols {
		col := make([]float64, k)
		for i := range col {
			col[i] = s.UnitNormal()
		}
		m.cols[j] = col
	}
	return m
}

func normalFactories(n int) []PriorFactory {
	out := make([]PriorFactory, n)
	for i := range out {
		out[i] = func(mode, k int, train *data.Data, m *model.Model) (prior.Prior, error) {
			return prior.NewNormalPrior(mode, k, train, m), nil
		}
	}
	return out
}

// TestSession_DenseRecovery exercises spec §8 scenario 1: training on an
// exactly-low-rank Y = U^T V with K matching the true rank should drive
// the train RMSE well below 0.01 after enough sampling iterations with no
// burn-in.
func TestSession_DenseRecovery(t *testing.T) {
	gen := rng.NewPool(1, 1).Worker(0)
	k, d0, d1 := 2, 10, 10
	u := randomFactor(gen, k, d0)
	v := randomFactor(gen, k, d1)
	trainRel := denseTrainRelation(t, u, v)

	cfg := &config.Config{
		NumLatent: k,
		Burnin:    0,
		NSamples:  50,
		Priors:    []string{"normal", "normal"},
		Seed:      42,
	}
	noise := data.NewFixedGaussianNoise(1e4)

	sess, err := New(cfg, trainRel, nil, noise, normalFactories(2))
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Run())
	require.InDelta(t, 0, sess.trainRMSE(), 0.01)
}

// TestSession_SparseHeldOut exercises spec §8 scenario 2's shape at small
// scale: a sparsely observed relation with a held-out test set should
// reach a test RMSE in the same ballpark as the generating noise scale
// after burn-in and sampling.
func TestSession_SparseHeldOut(t *testing.T) {
	gen := rng.NewPool(7, 1).Worker(0)
	k, d0, d1 := 3, 20, 20
	u := randomFactor(gen, k, d0)
	v := randomFactor(gen, k, d1)

	var trainCoords, testCoords [][]int32
	var trainVals, testVals []float64
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			var y float64
			for kk := range u.cols[i] {
				y += u.cols[i][kk] * v.cols[j][kk]
			}
			y += gen.UnitNormal() * 0.1
			if gen.Uniform(0, 1) < 0.7 {
				trainCoords = append(trainCoords, []int32{int32(i), int32(j)})
				trainVals = append(trainVals, y)
			} else {
				testCoords = append(testCoords, []int32{int32(i), int32(j)})
				testVals = append(testVals, y)
			}
		}
	}
	trainRel, err := data.NewRelation([]int{d0, d1}, trainCoords, trainVals)
	require.NoError(t, err)
	testRel, err := data.NewRelation([]int{d0, d1}, testCoords, testVals)
	require.NoError(t, err)

	cfg := &config.Config{
		NumLatent: k,
		Burnin:    20,
		NSamples:  40,
		Priors:    []string{"normal", "normal"},
		Seed:      99,
	}
	noise := data.NewFixedGaussianNoise(100)

	sess, err := New(cfg, trainRel, testRel, noise, normalFactories(2))
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Run())
	require.Greater(t, sess.Aggregator().NSamples(), 0)
	require.Less(t, sess.Aggregator().RMSE(), 1.0)
}

// TestSession_CheckpointContinuation checks the resume path of spec §8
// scenario 6: after a run that saves every iteration, restoring into a
// fresh Session positions it right after the last saved iteration and
// lets it run on to completion. It does not compare RMSE trajectories.
func TestSession_CheckpointContinuation(t *testing.T) {
	gen := rng.NewPool(3, 1).Worker(0)
	k, d0, d1 := 2, 8, 8
	u := randomFactor(gen, k, d0)
	v := randomFactor(gen, k, d1)
	trainRel := denseTrainRelation(t, u, v)

	dir := t.TempDir()
	prefix := dir + "/ckpt"

	cfg := &config.Config{
		NumLatent:  k,
		Burnin:     0,
		NSamples:   5,
		Priors:     []string{"normal", "normal"},
		Seed:       11,
		SavePrefix: prefix,
		SaveFreq:   1,
	}
	noise := data.NewFixedGaussianNoise(1e4)

	sess, err := New(cfg, trainRel, nil, noise, normalFactories(2))
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.Run())

	resumed := &config.Config{
		NumLatent: k,
		Burnin:    0,
		NSamples:  10,
		Priors:    []string{"normal", "normal"},
		Seed:      11,
	}
	noise2 := data.NewFixedGaussianNoise(1e4)
	sess2, err := New(resumed, trainRel, nil, noise2, normalFactories(2))
	require.NoError(t, err)
	defer sess2.Close()
	require.NoError(t, sess2.Restore(prefix))
	require.Equal(t, 5, sess2.Iter())
	require.NoError(t, sess2.Run())
}
