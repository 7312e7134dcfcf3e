// Package model holds the latent Model: one factor matrix per mode, the
// joint prediction they induce, and checkpoint save/restore (spec §3,
// §4.1's "per-mode factor matrices" and §6's checkpoint layout).
//
// Grounded on _examples/original_source/lib/smurff-cpp/SmurffCpp/Model.cpp:
// Model.init/predict/col/save/restore map onto Model.Init/Predict/Col/
// Save/Restore here; the global thread-local Pcache becomes an explicit
// sync.Pool per spec §9 ("global thread-local caches... become a
// per-worker storage... lazily initialized through the pool's per-worker
// slot").
package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/smurff-go/smurff/internal/errs"
	"github.com/smurff-go/smurff/internal/iohandler"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// InitType selects how factor matrices are seeded at Init.
type InitType int

const (
	InitRandom InitType = iota
	InitZero
)

// Model owns the nmodes factor matrices U_0 .. U_{nmodes-1}; U_m is
// K x D_m. Shapes are immutable once Init has run (spec §3 invariant).
type Model struct {
	numLatent int
	dims      []int
	samples   []*mat.Dense

	pcache sync.Pool
}

// New allocates an uninitialized Model; call Init before use.
func New() *Model { return &Model{} }

// Init allocates the factor matrices for the given dims (one entry per
// mode) and seeds them per initType.
func (m *Model) Init(numLatent int, dims []int, initType InitType, s *rng.Stream) error {
	if numLatent < 1 {
		return errs.Newf(errs.Assertion, "model.Init", "num_latent must be >= 1, got %d", numLatent)
	}
	for i, d := range dims {
		if d < 1 {
			return errs.Newf(errs.Assertion, "model.Init", "mode %d has dimension %d, want >= 1", i, d)
		}
	}

	m.numLatent = numLatent
	m.dims = append([]int(nil), dims...)
	m.samples = make([]*mat.Dense, len(dims))

	for i, d := range dims {
		sample := mat.NewDense(numLatent, d, nil)
		switch initType {
		case InitRandom:
			if s == nil {
				return errs.Newf(errs.Assertion, "model.Init", "random init requires an RNG stream")
			}
			s.NormalMatrix(sample)
		case InitZero:
			// already zero
		default:
			return errs.Newf(errs.Assertion, "model.Init", "unknown init type %d", initType)
		}
		m.samples[i] = sample
	}

	m.pcache = sync.Pool{New: func() any {
		return make([]float64, numLatent)
	}}
	return nil
}

// NModes returns the number of modes.
func (m *Model) NModes() int { return len(m.samples) }

// NLatent returns the shared latent dimension K.
func (m *Model) NLatent() int { return m.numLatent }

// Dims returns the size of each mode.
func (m *Model) Dims() []int { return m.dims }

// U returns mode f's factor matrix (K x D_f), mutable.
func (m *Model) U(f int) *mat.Dense { return m.samples[f] }

// Col returns a fresh copy of mode mode's column idx, length K. It
// implements data.Factors without model importing the data package.
func (m *Model) Col(mode, idx int) []float64 {
	u := m.samples[mode]
	k, _ := u.Dims()
	out := make([]float64, k)
	mat.Col(out, idx, u)
	return out
}

// Predict returns the prediction for cell pos (one index per mode): the
// sum over k of the product across modes of U_m[k, pos[m]]. It borrows
// its scratch vector from the per-worker cache instead of allocating.
func (m *Model) Predict(pos []int) (float64, error) {
	if len(pos) != len(m.samples) {
		return 0, errs.Newf(errs.Assertion, "model.Predict", "pos has %d coordinates, want %d", len(pos), len(m.samples))
	}
	p := m.pcache.Get().([]float64)
	defer m.pcache.Put(p)

	for k := range p {
		p[k] = 1
	}
	for mode, u := range m.samples {
		idx := pos[mode]
		for k := 0; k < m.numLatent; k++ {
			p[k] *= u.At(k, idx)
		}
	}
	var sum float64
	for _, v := range p {
		sum += v
	}
	return sum, nil
}

// Save writes every factor matrix as prefix-U<mode>-latents.ddm and
// returns the paths written, per spec §6's checkpoint layout.
func (m *Model) Save(prefix string) ([]string, error) {
	paths := make([]string, 0, len(m.samples))
	for i, u := range m.samples {
		path := fileName(prefix, i)
		if err := iohandler.WriteDDM(path, u); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Restore reads every factor matrix back from prefix-U<mode>-latents.ddm,
// overwriting the currently allocated matrices in place. Shapes must
// match those Init already allocated.
func (m *Model) Restore(prefix string) error {
	for i, u := range m.samples {
		path := fileName(prefix, i)
		if _, err := iohandler.ReadDDM(path, u); err != nil {
			return err
		}
	}
	return nil
}

func fileName(prefix string, mode int) string {
	return fmt.Sprintf("%s-U%d-latents.ddm", prefix, mode)
}

// Status reports the per-latent norm product across modes, mirroring
// Model::status in the original (used for the sampler's progress line).
func (m *Model) Status() []float64 {
	p := make([]float64, m.numLatent)
	for k := range p {
		p[k] = 1
	}
	for _, u := range m.samples {
		_, d := u.Dims()
		for k := 0; k < m.numLatent; k++ {
			var sumsq float64
			for j := 0; j < d; j++ {
				v := u.At(k, j)
				sumsq += v * v
			}
			p[k] *= math.Sqrt(sumsq)
		}
	}
	return p
}
