package model

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/smurff-go/smurff/internal/rng"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestModel_PredictMatchesManualDotProduct(t *testing.T) {
	m := New()
	if err := m.Init(2, []int{3, 4}, InitZero, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.U(0).Set(0, 1, 2)
	m.U(0).Set(1, 1, 3)
	m.U(1).Set(0, 2, 5)
	m.U(1).Set(1, 2, 7)

	got, err := m.Predict([]int{1, 2})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := 2*5 + 3*7
	if !almostEqual(got, float64(want), 1e-9) {
		t.Errorf("Predict = %v, want %v", got, want)
	}
}

func TestModel_ColMatchesU(t *testing.T) {
	m := New()
	s := rng.NewPool(1, 1).Worker(0)
	if err := m.Init(3, []int{5}, InitRandom, s); err != nil {
		t.Fatalf("Init: %v", err)
	}
	col := m.Col(0, 2)
	for k := 0; k < 3; k++ {
		if col[k] != m.U(0).At(k, 2) {
			t.Errorf("Col(0,2)[%d] = %v, want %v", k, col[k], m.U(0).At(k, 2))
		}
	}
}

func TestModel_SaveRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "ckpt")

	m := New()
	s := rng.NewPool(99, 1).Worker(0)
	if err := m.Init(2, []int{3, 4}, InitRandom, s); err != nil {
		t.Fatalf("Init: %v", err)
	}
	paths, err := m.Save(prefix)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected checkpoint file %s: %v", p, err)
		}
	}

	restored := New()
	if err := restored.Init(2, []int{3, 4}, InitZero, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := restored.Restore(prefix); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for mode := range []int{0, 1} {
		a, b := m.U(mode), restored.U(mode)
		r, c := a.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if !almostEqual(a.At(i, j), b.At(i, j), 1e-12) {
					t.Errorf("U(%d)[%d][%d] = %v, want %v", mode, i, j, b.At(i, j), a.At(i, j))
				}
			}
		}
	}
}
