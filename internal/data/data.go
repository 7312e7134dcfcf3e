package data

import (
	"github.com/smurff-go/smurff/internal/errs"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// Data is the uniform view over one relation (train or test) a Prior
// samples against: a Relation plus the noise model currently mixed into
// its sufficient statistics (spec §4.3).
type Data struct {
	rel   *Relation
	noise Noise
}

// New pairs a Relation with a Noise model.
func New(rel *Relation, noise Noise) *Data {
	return &Data{rel: rel, noise: noise}
}

// Relation exposes the underlying sparse view, e.g. for iohandler dumps.
func (d *Data) Relation() *Relation { return d.rel }

// Noise exposes the current noise model, so Session can trigger its
// per-sweep hyperparameter update.
func (d *Data) Noise() Noise { return d.noise }

func (d *Data) NModes() int             { return d.rel.NModes() }
func (d *Data) Dim(m int) int           { return d.rel.Dim(m) }
func (d *Data) Nnz() int                { return d.rel.Nnz() }
func (d *Data) NView(m int) int         { return d.rel.NView(m) }
func (d *Data) View(m, dd int) int      { return d.rel.View(m, dd) }
func (d *Data) ViewSize(m, v int) int   { return d.rel.ViewSize(m, v) }
func (d *Data) SumSq() float64          { return d.rel.SumSq() }
func (d *Data) VarTotal() float64       { return d.rel.VarTotal() }
func (d *Data) MeanRating() float64     { return d.rel.MeanRating() }

// GetPNM computes the information-form Gaussian contribution (rhs, prec)
// of the observed cells whose mode-m coordinate equals d, given the
// other modes' current factors (spec §4.3). For probit noise, each
// cell's value is replaced by a freshly augmented latent drawn
// conditional on its label's sign, which is why this call takes an RNG
// stream even though it only reads factors.
func (d *Data) GetPNM(m, dd int, k int, factors Factors, s *rng.Stream) ([]float64, *mat.SymDense, error) {
	rhs := make([]float64, k)
	prec := mat.NewSymDense(k, nil)

	nz := d.rel.byMode[m][dd]
	q := make([]float64, k)
	for _, obsIdx := range nz {
		i := int(obsIdx)
		for kk := range q {
			q[kk] = 1
		}
		for mm := 0; mm < d.rel.nmodes; mm++ {
			if mm == m {
				continue
			}
			col := factors.Col(mm, int(d.rel.coords[mm][i]))
			if len(col) != k {
				return nil, nil, errs.Newf(errs.Assertion, "data.GetPNM", "mode %d column has length %d, want %d", mm, len(col), k)
			}
			for kk := range q {
				q[kk] *= col[kk]
			}
		}

		ownCol := factors.Col(m, dd)
		var pred float64
		for kk := 0; kk < k; kk++ {
			pred += q[kk] * ownCol[kk]
		}

		value, precisionCell := d.noise.Sample(s, d.rel.vals[i], pred)

		for a := 0; a < k; a++ {
			rhs[a] += precisionCell * value * q[a]
			for b := a; b < k; b++ {
				prec.SetSym(a, b, prec.At(a, b)+precisionCell*q[a]*q[b])
			}
		}
	}
	return rhs, prec, nil
}

// UpdateNoise recomputes the noise model's hyperparameters (adaptive
// Gaussian only) from the residual sum of squares over every observed
// cell, given the current factors.
func (d *Data) UpdateNoise(k int, factors Factors, s *rng.Stream) {
	var sse float64
	q := make([]float64, k)
	for i := 0; i < d.rel.Nnz(); i++ {
		for kk := range q {
			q[kk] = 1
		}
		for mm := 0; mm < d.rel.nmodes; mm++ {
			col := factors.Col(mm, int(d.rel.coords[mm][i]))
			for kk := range q {
				q[kk] *= col[kk]
			}
		}
		var pred float64
		for kk := 0; kk < k; kk++ {
			pred += q[kk]
		}
		res := d.rel.vals[i] - pred
		sse += res * res
	}
	d.noise.Update(s, sse, d.rel.Nnz())
}
