package prior

import (
	"fmt"

	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/linop"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// MacauOnePrior is MacauPrior's coordinate-wise sibling, recognized by
// the CLI as "macauone": it keeps MacauPrior's Uhat-centered
// Normal-Wishart update and beta refit (embedded below) but resamples
// each column one latent component at a time, the same Gauss-Seidel
// sweep NormalOnePrior runs in place of NormalPrior's single
// multivariate draw.
type MacauOnePrior struct {
	*MacauPrior
}

// NewMacauOnePrior builds a MacauOnePrior for the given mode with side
// information f (D_m x P).
func NewMacauOnePrior(mode, k int, train *data.Data, m *model.Model, f linop.Operator) *MacauOnePrior {
	return &MacauOnePrior{MacauPrior: NewMacauPrior(mode, k, train, m, f)}
}

func (p *MacauOnePrior) SampleLatents(pool *rng.Pool) error {
	return parallelColumns(pool, p.dCols(), func(s *rng.Stream, d int) error {
		rhs, prec, err := p.train.GetPNM(p.mode, d, p.k, p.m, s)
		if err != nil {
			return err
		}
		mean := p.columnMean(d)
		xx := symAdd(p.Lambda, prec)
		yx := make([]float64, p.k)
		for i := 0; i < p.k; i++ {
			var priorRhsI float64
			for j := 0; j < p.k; j++ {
				priorRhsI += p.Lambda.At(i, j) * mean[j]
			}
			yx[i] = priorRhsI + rhs[i]
		}

		u := p.m.U(p.mode)
		col := make([]float64, p.k)
		mat.Col(col, d, u)
		for k := 0; k < p.k; k++ {
			mu, lambda := sampleLatentCoordinate(k, col, xx, yx)
			v := mu + s.UnitNormal()/sqrtPositive(lambda)
			col[k] = v
			u.Set(k, d, v)
		}
		return nil
	})
}

func (p *MacauOnePrior) Status() string {
	return fmt.Sprintf("MacauOnePrior(mode=%d): |mu|=%.4g lambda_beta=%.4g", p.mode, vecNorm(p.Mu), p.LambdaBeta)
}
