package prior

import (
	"fmt"
	"math"

	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/errs"
	"github.com/smurff-go/smurff/internal/iohandler"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// NormalPrior is the pure Bayesian Probabilistic Matrix Factorization
// prior (spec §4.4): a Normal-Wishart conjugate pair over the column
// distribution of one mode's factor matrix, with no side information.
type NormalPrior struct {
	base

	Mu     []float64
	Lambda *mat.SymDense

	Mu0 []float64
	B0  float64
	Nu  float64
	W   *mat.SymDense
}

// NewNormalPrior builds a NormalPrior for the given mode with the
// standard weak hyperpriors mu0=0, b0=2, nu=K, W=I (matching the
// original's NormalPrior default construction).
func NewNormalPrior(mode, k int, train *data.Data, m *model.Model) *NormalPrior {
	p := &NormalPrior{
		base:   newBase(mode, k, train, m),
		Mu:     make([]float64, k),
		Lambda: identitySym(k),
		Mu0:    make([]float64, k),
		B0:     2,
		Nu:     float64(k),
		W:      identitySym(k),
	}
	return p
}

func identitySym(k int) *mat.SymDense {
	s := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		s.SetSym(i, i, 1)
	}
	return s
}

// columnMean returns the prior mean used for column d: just Mu.
// MacauPrior defines its own columnMean (mu + Uhat[:,d]), which its own
// SampleLatents uses.
func (p *NormalPrior) columnMean(int) []float64 { return p.Mu }

func (p *NormalPrior) SampleLatents(pool *rng.Pool) error {
	return parallelColumns(pool, p.dCols(), func(s *rng.Stream, d int) error {
		rhs, prec, err := p.train.GetPNM(p.mode, d, p.k, p.m, s)
		if err != nil {
			return err
		}
		col, err := drawColumn(s, p.columnMean(d), p.Lambda, rhs, prec)
		if err != nil {
			return err
		}
		u := p.m.U(p.mode)
		for i, v := range col {
			u.Set(i, d, v)
		}
		return nil
	})
}

// UpdatePrior performs the conjugate Normal-Wishart resample of
// (mu, Lambda) from the current column-wise mean and scatter of U_m
// (spec §4.4's second paragraph).
func (p *NormalPrior) UpdatePrior(s *rng.Stream) error {
	return p.updatePriorCentered(s, nil)
}

// updatePriorCentered is shared with MacauPrior: centered subtracts a
// per-column mean (Uhat) from U_m before computing scatter, when non-nil.
func (p *NormalPrior) updatePriorCentered(s *rng.Stream, centered func(d int) []float64) error {
	k := p.k
	n := p.dCols()
	u := p.m.U(p.mode)

	xbar := make([]float64, k)
	cols := make([][]float64, n)
	for d := 0; d < n; d++ {
		col := make([]float64, k)
		mat.Col(col, d, u)
		if centered != nil {
			c := centered(d)
			for i := range col {
				col[i] -= c[i]
			}
		}
		cols[d] = col
		for i := range xbar {
			xbar[i] += col[i]
		}
	}
	for i := range xbar {
		xbar[i] /= float64(n)
	}

	scatter := mat.NewSymDense(k, nil)
	for _, col := range cols {
		for i := 0; i < k; i++ {
			di := col[i] - xbar[i]
			for j := i; j < k; j++ {
				dj := col[j] - xbar[j]
				scatter.SetSym(i, j, scatter.At(i, j)+di*dj)
			}
		}
	}

	b0New := p.B0 + float64(n)
	nuNew := p.Nu + float64(n)
	mu0New := make([]float64, k)
	diff := make([]float64, k)
	for i := 0; i < k; i++ {
		mu0New[i] = (p.B0*p.Mu0[i] + float64(n)*xbar[i]) / b0New
		diff[i] = xbar[i] - p.Mu0[i]
	}

	var wInv mat.SymDense
	var cholW mat.Cholesky
	if ok := cholW.Factorize(p.W); !ok {
		return errWishartNotSPD("prior.NormalPrior.UpdatePrior", p.mode)
	}
	if err := cholW.InverseTo(&wInv); err != nil {
		return errWishartNotSPD("prior.NormalPrior.UpdatePrior", p.mode)
	}

	ridgeCoef := (p.B0 * float64(n)) / b0New
	wInvNew := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := wInv.At(i, j) + scatter.At(i, j) + ridgeCoef*diff[i]*diff[j]
			wInvNew.SetSym(i, j, v)
		}
	}

	var cholWInvNew mat.Cholesky
	if ok := cholWInvNew.Factorize(wInvNew); !ok {
		return errWishartNotSPD("prior.NormalPrior.UpdatePrior", p.mode)
	}
	var wNew mat.SymDense
	if err := cholWInvNew.InverseTo(&wNew); err != nil {
		return errWishartNotSPD("prior.NormalPrior.UpdatePrior", p.mode)
	}

	lambda, err := s.Wishart(&wNew, nuNew)
	if err != nil {
		return err
	}
	muCov := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			muCov.SetSym(i, j, lambda.At(i, j)*b0New)
		}
	}
	muNew, err := s.MvNormalFromPrecision(mu0New, muCov)
	if err != nil {
		return err
	}

	p.Mu = muNew
	p.Lambda = lambda
	p.Mu0 = mu0New
	p.B0 = b0New
	p.Nu = nuNew
	p.W = &wNew
	return nil
}

func errWishartNotSPD(where string, mode int) error {
	return errs.Numericalf(where, "mode %d: scatter update is not positive definite", mode)
}

func (p *NormalPrior) Save(prefix string) ([]string, error) {
	muPath := fmt.Sprintf("%s-prior%d-mu.ddm", prefix, p.mode)
	lambdaPath := fmt.Sprintf("%s-prior%d-Lambda.ddm", prefix, p.mode)
	if err := iohandler.WriteDDM(muPath, mat.NewDense(1, p.k, p.Mu)); err != nil {
		return nil, err
	}
	if err := iohandler.WriteDDM(lambdaPath, symToDense(p.Lambda)); err != nil {
		return nil, err
	}
	return []string{muPath, lambdaPath}, nil
}

func (p *NormalPrior) Restore(prefix string) error {
	muPath := fmt.Sprintf("%s-prior%d-mu.ddm", prefix, p.mode)
	lambdaPath := fmt.Sprintf("%s-prior%d-Lambda.ddm", prefix, p.mode)
	muDense, err := iohandler.ReadDDM(muPath, nil)
	if err != nil {
		return err
	}
	p.Mu = append(p.Mu[:0], muDense.RawRowView(0)...)
	lambdaDense, err := iohandler.ReadDDM(lambdaPath, nil)
	if err != nil {
		return err
	}
	p.Lambda = denseToSym(lambdaDense)
	return nil
}

func (p *NormalPrior) Status() string {
	return fmt.Sprintf("NormalPrior(mode=%d): |mu|=%.4g", p.mode, vecNorm(p.Mu))
}

func vecNorm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func symToDense(s *mat.SymDense) *mat.Dense {
	n := s.SymmetricDim()
	d := mat.NewDense(n, n, nil)
	d.CloneFrom(s)
	return d
}

func denseToSym(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, d.At(i, j))
		}
	}
	return s
}
