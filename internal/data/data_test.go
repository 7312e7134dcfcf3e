package data

import (
	"math"
	"testing"

	"github.com/smurff-go/smurff/internal/rng"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// denseFactors is a fixed two-mode Factors stub for testing GetPNM
// without pulling in the model package.
type denseFactors struct {
	cols [][][]float64 // cols[mode][idx] = K-length column
}

func (f denseFactors) Col(mode, idx int) []float64 { return f.cols[mode][idx] }

func TestGetPNM_SingleCellFixedNoise(t *testing.T) {
	// One observed cell (0,0) = 2.0, U_1[:,0] = [1,2], alpha = 3.
	rel, err := NewRelation([]int{1, 1}, [][]int32{{0, 0}}, []float64{2.0})
	if err != nil {
		t.Fatalf("NewRelation: %v", err)
	}
	d := New(rel, NewFixedGaussianNoise(3))

	f := denseFactors{cols: [][][]float64{
		{{0, 0}},   // mode 0, column 0 (unused: excluded from the cross product)
		{{1, 2}},   // mode 1, column 0
	}}

	s := rng.NewPool(1, 1).Worker(0)
	rhs, prec, err := d.GetPNM(0, 0, 2, f, s)
	if err != nil {
		t.Fatalf("GetPNM: %v", err)
	}

	// q = U_1[:,0] = [1,2]; rhs = alpha*value*q = 3*2*[1,2] = [6,12]
	wantRhs := []float64{6, 12}
	for i, w := range wantRhs {
		if !almostEqual(rhs[i], w, 1e-9) {
			t.Errorf("rhs[%d] = %v, want %v", i, rhs[i], w)
		}
	}
	// prec = alpha*q*q^T = 3*[[1,2],[2,4]] = [[3,6],[6,12]]
	want := [2][2]float64{{3, 6}, {6, 12}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if !almostEqual(prec.At(i, j), want[i][j], 1e-9) {
				t.Errorf("prec[%d][%d] = %v, want %v", i, j, prec.At(i, j), want[i][j])
			}
		}
	}
}

func TestRelation_ViewDefaults(t *testing.T) {
	rel, err := NewRelation([]int{3, 2}, [][]int32{{0, 0}, {1, 1}}, []float64{1, 2})
	if err != nil {
		t.Fatalf("NewRelation: %v", err)
	}
	if rel.NView(0) != 1 {
		t.Errorf("NView(0) = %d, want 1", rel.NView(0))
	}
	if rel.View(0, 2) != 0 {
		t.Errorf("View(0,2) = %d, want 0", rel.View(0, 2))
	}
	if rel.ViewSize(0, 0) != 3 {
		t.Errorf("ViewSize(0,0) = %d, want 3", rel.ViewSize(0, 0))
	}
}

func TestRelation_SummaryStats(t *testing.T) {
	rel, err := NewRelation([]int{2, 2}, [][]int32{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewRelation: %v", err)
	}
	if !almostEqual(rel.MeanRating(), 2.5, 1e-9) {
		t.Errorf("MeanRating() = %v, want 2.5", rel.MeanRating())
	}
	if !almostEqual(rel.SumSq(), 1+4+9+16, 1e-9) {
		t.Errorf("SumSq() = %v, want 30", rel.SumSq())
	}
}

func TestAdaptiveGaussianNoise_UpdateIncreasesPrecisionOnSmallResiduals(t *testing.T) {
	n := NewAdaptiveGaussianNoise(1, 1, 1, 0)
	s := rng.NewPool(7, 1).Worker(0)
	// Tiny residual sum of squares over many observations should push the
	// posterior precision well above the prior mean.
	n.Update(s, 1e-6, 10000)
	if n.Alpha() < 10 {
		t.Errorf("Alpha() = %v, want a large precision given near-zero residuals", n.Alpha())
	}
}

func TestProbitNoise_LatentMatchesLabelSign(t *testing.T) {
	n := NewProbitNoise()
	s := rng.NewPool(42, 1).Worker(0)
	for i := 0; i < 200; i++ {
		pos, _ := n.Sample(s, 1, 0.3)
		if pos <= 0 {
			t.Fatalf("positive-label latent draw %v is not positive", pos)
		}
		neg, _ := n.Sample(s, -1, -0.3)
		if neg >= 0 {
			t.Fatalf("negative-label latent draw %v is not negative", neg)
		}
	}
}
