package prior

import (
	"fmt"
	"log"
	"math"

	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/iohandler"
	"github.com/smurff-go/smurff/internal/linop"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// MacauPrior extends NormalPrior with a side-information regression:
// the prior mean of column d becomes mu + Uhat[:,d], where
// Uhat = beta * F^T is refit by block-CG after every Normal-Wishart
// update (spec §4.5).
type MacauPrior struct {
	*NormalPrior

	F    linop.Operator // D_m x P side information
	Beta *mat.Dense     // K x P link matrix
	Uhat *mat.Dense     // K x D_m, maintained == Beta * F^T

	LambdaBeta     float64
	LambdaBetaMu0  float64
	LambdaBetaNu0  float64

	CGOpts linop.CGOptions
}

// NewMacauPrior builds a MacauPrior for the given mode with side
// information F (D_m x P).
func NewMacauPrior(mode, k int, train *data.Data, m *model.Model, f linop.Operator) *MacauPrior {
	p := &MacauPrior{
		NormalPrior:   NewNormalPrior(mode, k, train, m),
		F:             f,
		Beta:          mat.NewDense(k, f.Cols(), nil),
		Uhat:          mat.NewDense(k, f.Rows(), nil),
		LambdaBeta:    5,
		LambdaBetaMu0: 1,
		LambdaBetaNu0: 1e-3,
		CGOpts:        linop.DefaultCGOptions(),
	}
	return p
}

// columnMean overrides NormalPrior.columnMean with mu + Uhat[:,d].
func (p *MacauPrior) columnMean(d int) []float64 {
	out := make([]float64, p.k)
	for i := 0; i < p.k; i++ {
		out[i] = p.Mu[i] + p.Uhat.At(i, d)
	}
	return out
}

func (p *MacauPrior) SampleLatents(pool *rng.Pool) error {
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

// UpdatePrior runs NormalPrior's conjugate Normal-Wishart step on the
// Uhat-centered columns, then refits beta (spec §4.5).
func (p *MacauPrior) UpdatePrior(s *rng.Stream) error {
	if err := p.updatePriorCentered(s, func(d int) []float64 {
		row := make([]float64, p.k)
		for i := range row {
			row[i] = p.Uhat.At(i, d)
		}
		return row
	}); err != nil {
		return err
	}
	return p.sampleBeta(s)
}

// sampleBeta refits beta by block-CG, perturbs it by the conjugate
// posterior noise, recomputes Uhat, and resamples lambda_beta (spec
// §4.5 steps 1-5).
func (p *MacauPrior) sampleBeta(s *rng.Stream) error {
	k, d, pp := p.k, p.dCols(), p.F.Cols()

	// Ft_y = F^T (U_m - mu)^T, a P x K matrix; we solve in the K x P
	// row convention block-CG expects, so build Y = (U_m - mu) directly
	// as K rows (one RHS per latent component).
	y := mat.NewDense(k, d, nil)
	u := p.m.U(p.mode)
	for i := 0; i < k; i++ {
		for j := 0; j < d; j++ {
			y.Set(i, j, u.At(i, j)-p.Mu[i])
		}
	}
	ftY := mat.NewDense(k, pp, nil)
	p.F.ApplyRowsTrans(ftY, y)

	// SolveBlockCG's row convention already matches Beta's K x P shape
	// directly (one latent component per row), so no extra transpose is
	// needed between the solve and storing it as Beta.
	refit, res, err := linop.SolveBlockCG(p.F, p.LambdaBeta, ftY, p.CGOpts)
	if err != nil {
		return err
	}
	if !res.Converged {
		log.Printf("prior: mode %d beta refit: block-CG did not converge in %d iterations, proceeding", p.mode, res.Iterations)
	}
	p.Beta = refit

	// Perturb beta by the conjugate posterior covariance: for small F
	// this is a direct Cholesky draw on (F^TF + lambda_beta I); we reuse
	// the CG operator's ridge via AtAMulB as the precision and draw one
	// more block-CG solve against a Gaussian right-hand side, matching
	// the reference's "sample via CG residual" option (spec §4.5 step 3).
	noise := mat.NewDense(k, pp, nil)
	s.NormalMatrix(noise)
	perturb, _, err := linop.SolveBlockCG(p.F, p.LambdaBeta, noise, p.CGOpts)
	if err != nil {
		return err
	}
	sqrtLambda := math.Sqrt(p.LambdaBeta)
	p.Beta.Apply(func(i, j int, v float64) float64 {
		return v + perturb.At(i, j)/sqrtLambda
	}, p.Beta)

	p.Uhat = mat.NewDense(k, d, nil)
	p.F.ApplyRows(p.Uhat, p.Beta)

	nu, mu0 := p.LambdaBetaNu0, p.LambdaBetaMu0
	lambdaU := p.Lambda
	var betaLambdaBetaT float64
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			var s float64
			for c := 0; c < pp; c++ {
				s += p.Beta.At(i, c) * p.Beta.At(j, c)
			}
			betaLambdaBetaT += lambdaU.At(i, j) * s
		}
	}
	shape := nu + float64(k*pp)/2
	rate := mu0 + 0.5*betaLambdaBetaT
	p.LambdaBeta = s.Gamma(shape, 1/rate)
	return nil
}

func (p *MacauPrior) Save(prefix string) ([]string, error) {
	paths, err := p.NormalPrior.Save(prefix)
	if err != nil {
		return nil, err
	}
	betaPath := fmt.Sprintf("%s-prior%d-beta.ddm", prefix, p.mode)
	if err := iohandler.WriteDDM(betaPath, p.Beta); err != nil {
		return nil, err
	}
	return append(paths, betaPath), nil
}

func (p *MacauPrior) Restore(prefix string) error {
	if err := p.NormalPrior.Restore(prefix); err != nil {
		return err
	}
	betaPath := fmt.Sprintf("%s-prior%d-beta.ddm", prefix, p.mode)
	beta, err := iohandler.ReadDDM(betaPath, p.Beta)
	if err != nil {
		return err
	}
	p.Beta = beta
	p.Uhat = mat.NewDense(p.k, p.dCols(), nil)
	p.F.ApplyRows(p.Uhat, p.Beta)
	return nil
}

func (p *MacauPrior) Status() string {
	return fmt.Sprintf("MacauPrior(mode=%d): |mu|=%.4g lambda_beta=%.4g", p.mode, vecNorm(p.Mu), p.LambdaBeta)
}
