package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

// TestAdd_MatchesStatMeanVariance cross-checks the running Welford
// accumulator against gonum/stat's two-pass stat.Mean/stat.Variance,
// computed directly over the same per-sample draws, for a handful of
// cells folded in one sample at a time.
func TestAdd_MatchesStatMeanVariance(t *testing.T) {
	truth := []float64{1, 2, 3}
	a := New(truth)

	samples := [][]float64{
		{1.1, 2.3, 2.8},
		{0.9, 1.8, 3.4},
		{1.3, 2.1, 2.9},
		{1.0, 2.0, 3.0},
		{0.95, 2.2, 3.1},
	}
	for _, s := range samples {
		require.NoError(t, a.Add(s))
	}

	for cell := 0; cell < len(truth); cell++ {
		draws := make([]float64, len(samples))
		for i, s := range samples {
			draws[i] = s[cell]
		}
		wantMean := stat.Mean(draws, nil)
		wantVar := stat.Variance(draws, nil) * float64(len(draws)-1) / float64(len(draws))
		require.InDelta(t, wantMean, a.Mean(cell), 1e-9)
		require.InDelta(t, wantVar, a.Variance(cell), 1e-9)
	}
}

func TestAdd_RejectsWrongWidth(t *testing.T) {
	a := New([]float64{1, 2})
	err := a.Add([]float64{1})
	require.Error(t, err)
}

func TestRMSE_ZeroWhenPredictionsMatchTruth(t *testing.T) {
	a := New([]float64{1, 2, 3})
	require.NoError(t, a.Add([]float64{1, 2, 3}))
	require.InDelta(t, 0, a.RMSE(), 1e-12)
}

// TestAUC_PerfectRankingIsOne exercises spec §8 scenario 5's shape: a
// classifier whose scores perfectly separate the two classes gets AUC 1.
func TestAUC_PerfectRankingIsOne(t *testing.T) {
	a := New([]float64{0, 0, 1, 1})
	require.NoError(t, a.Add([]float64{0.1, 0.2, 0.8, 0.9}))
	auc, err := a.AUC()
	require.NoError(t, err)
	require.InDelta(t, 1.0, auc, 1e-12)
}

// TestAUC_InvertedRankingIsZero complements the perfect-ranking case:
// scoring every negative above every positive should drive AUC to 0.
func TestAUC_InvertedRankingIsZero(t *testing.T) {
	a := New([]float64{0, 0, 1, 1})
	require.NoError(t, a.Add([]float64{0.9, 0.8, 0.2, 0.1}))
	auc, err := a.AUC()
	require.NoError(t, err)
	require.InDelta(t, 0.0, auc, 1e-12)
}

func TestAUC_RequiresBothClasses(t *testing.T) {
	a := New([]float64{1, 1, 1})
	require.NoError(t, a.Add([]float64{0.1, 0.2, 0.3}))
	_, err := a.AUC()
	require.Error(t, err)
}
