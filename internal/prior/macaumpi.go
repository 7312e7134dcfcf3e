package prior

import (
	"fmt"
	"log"
	"math"

	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/distop"
	"github.com/smurff-go/smurff/internal/errs"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// MacauMPIPrior is MacauPrior with its beta refit's AᵀA product routed
// through a DistributedOperator (spec §4.6): the CG loop calls
// ApplyLocal on the full right-hand-side block, then Gather and
// Broadcast. Work records SplitWork's per-rank row counts and is checked
// against the world size, but the block is not sliced by rank here; each
// ApplyLocal call sees all K latent rows.
type MacauMPIPrior struct {
	*MacauPrior

	DOp  distop.DistributedOperator
	Work []int // per-rank row-count split of the K latent rows
}

// NewMacauMPIPrior builds a MacauMPIPrior whose beta refit is driven
// through dop, a DistributedOperator over the same side information as
// the wrapped MacauPrior's F. world is the number of ranks dop spans.
func NewMacauMPIPrior(mode, k int, train *data.Data, m *model.Model, dop distop.DistributedOperator, world int) *MacauMPIPrior {
	base := NewMacauPrior(mode, k, train, m, dop)
	return &MacauMPIPrior{
		MacauPrior: base,
		DOp:        dop,
		Work:       distop.SplitWork(k, world),
	}
}

// sampleBetaDistributed takes the place of MacauPrior.sampleBeta in
// MacauMPIPrior.UpdatePrior, driving the solve through the distributed
// operator instead of a single in-process block-CG call. A non-finite
// partial product is fatal (spec §4.6).
func (p *MacauMPIPrior) sampleBetaDistributed(s *rng.Stream) error {
	k, d, pp := p.k, p.dCols(), p.F.Cols()

	y := mat.NewDense(k, d, nil)
	u := p.m.U(p.mode)
	for i := 0; i < k; i++ {
		for j := 0; j < d; j++ {
			y.Set(i, j, u.At(i, j)-p.Mu[i])
		}
	}
	ftY := mat.NewDense(k, pp, nil)
	p.F.ApplyRowsTrans(ftY, y)

	refit, iters, err := p.distributedBlockCG(s, ftY)
	if err != nil {
		return err
	}
	p.Beta = refit

	noise := mat.NewDense(k, pp, nil)
	s.NormalMatrix(noise)
	perturb, _, err := p.distributedBlockCG(s, noise)
	if err != nil {
		return err
	}
	sqrtLambda := math.Sqrt(p.LambdaBeta)
	p.Beta.Apply(func(i, j int, v float64) float64 {
		return v + perturb.At(i, j)/sqrtLambda
	}, p.Beta)

	log.Printf("prior: mode %d distributed beta refit ran %d CG iterations across %d ranks", p.mode, iters, p.DOp.World())

	p.Uhat = mat.NewDense(k, d, nil)
	p.F.ApplyRows(p.Uhat, p.Beta)

	return p.resampleLambdaBeta(s)
}

// resampleLambdaBeta performs the same Gamma posterior draw as
// MacauPrior.sampleBeta's final step, which computes it inline.
func (p *MacauMPIPrior) resampleLambdaBeta(s *rng.Stream) error {
	k, pp := p.k, p.F.Cols()
	var betaLambdaBetaT float64
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			var acc float64
			for c := 0; c < pp; c++ {
				acc += p.Beta.At(i, c) * p.Beta.At(j, c)
			}
			betaLambdaBetaT += p.Lambda.At(i, j) * acc
		}
	}
	shape := p.LambdaBetaNu0 + float64(k*pp)/2
	rate := p.LambdaBetaMu0 + 0.5*betaLambdaBetaT
	p.LambdaBeta = s.Gamma(shape, 1/rate)
	return nil
}

// distributedBlockCG solves (FᵀF + lambda_beta I) X = B by a CG loop
// with one scalar step size over the whole block, whose AtA product comes
// from gatherAtAMulB. It returns the number of iterations run; it does
// not report whether the residual tolerance was reached.
func (p *MacauMPIPrior) distributedBlockCG(s *rng.Stream, b *mat.Dense) (*mat.Dense, int, error) {
	world := p.DOp.World()
	if world != len(p.Work) {
		return nil, 0, errs.Newf(errs.Assertion, "prior.MacauMPIPrior", "DOp world size %d does not match split %d", world, len(p.Work))
	}

	opts := p.CGOpts
	nrhs, nfeat := b.Dims()

	x := mat.NewDense(nrhs, nfeat, nil)
	r := mat.DenseCopyOf(b)
	pmat := mat.DenseCopyOf(b)

	iter := 0
	for ; iter < opts.MaxIter; iter++ {
		kp, err := p.gatherAtAMulB(pmat)
		if err != nil {
			return nil, iter, err
		}

		num := frobInner(pmat, r)
		den := frobInner(pmat, kp)
		if den == 0 {
			break
		}
		alpha := num / den

		for i := 0; i < nrhs; i++ {
			for j := 0; j < nfeat; j++ {
				x.Set(i, j, x.At(i, j)+alpha*pmat.At(i, j))
				r.Set(i, j, r.At(i, j)-alpha*kp.At(i, j))
			}
		}

		resNorm := frobInner(r, r)
		if resNorm <= opts.Tol*opts.Tol {
			iter++
			break
		}

		beta := resNorm / num
		for i := 0; i < nrhs; i++ {
			for j := 0; j < nfeat; j++ {
				pmat.Set(i, j, r.At(i, j)+beta*pmat.At(i, j))
			}
		}
	}

	return x, iter, nil
}

// gatherAtAMulB calls this rank's ApplyLocal on the whole block b,
// checks the partial product is finite, then passes it through Gather
// and Broadcast. It does not split b into per-rank row slices.
func (p *MacauMPIPrior) gatherAtAMulB(b *mat.Dense) (*mat.Dense, error) {
	partial := p.DOp.ApplyLocal(p.LambdaBeta, b)
	for i := 0; i < partial.RawMatrix().Rows; i++ {
		for j := 0; j < partial.RawMatrix().Cols; j++ {
			if math.IsNaN(partial.At(i, j)) || math.IsInf(partial.At(i, j), 0) {
				return nil, errs.Numericalf("prior.MacauMPIPrior", "rank %d produced a non-finite partial product", p.DOp.Rank())
			}
		}
	}
	combined := p.DOp.Gather(partial)
	return p.DOp.Broadcast(combined), nil
}

func frobInner(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	var s float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += a.At(i, j) * b.At(i, j)
		}
	}
	return s
}

// UpdatePrior overrides MacauPrior.UpdatePrior to route the beta refit
// through the distributed solve.
func (p *MacauMPIPrior) UpdatePrior(s *rng.Stream) error {
	if err := p.updatePriorCentered(s, func(d int) []float64 {
		row := make([]float64, p.k)
		for i := range row {
			row[i] = p.Uhat.At(i, d)
		}
		return row
	}); err != nil {
		return err
	}
	return p.sampleBetaDistributed(s)
}

func (p *MacauMPIPrior) Status() string {
	return fmt.Sprintf("MacauMPIPrior(mode=%d, world=%d, split=%v): |mu|=%.4g lambda_beta=%.4g",
		p.mode, p.DOp.World(), p.Work, vecNorm(p.Mu), p.LambdaBeta)
}
