package prior

import (
	"fmt"
	"math"

	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/iohandler"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/mat"
)

// SpikeAndSlabPrior integrates out a per-latent binary inclusion
// variable analytically, producing a spike (zero) / slab (Normal)
// mixture posterior per (k, view) (spec §4.7). It builds directly on
// the coordinate-wise Gauss-Seidel update NormalOnePrior supplies,
// matching SpikeAndSlabPrior.cpp's own derivation from NormalOnePrior.
type SpikeAndSlabPrior struct {
	base

	Zcol, W2col [][]float64 // per (k, view) thread-local accumulators, folded at the sweep barrier
	Zkeep       [][]float64 // per (k, view) inclusion counter; a hard gate once it reaches 0 (spec §9 open question)
	Alpha       [][]float64 // per (k, view) slab precision
	R           [][]float64 // per (k, view) inclusion probability, in (0,1)
	LogAlpha    [][]float64
	LogR        [][]float64

	PriorBeta, PriorAlpha0, PriorBeta0 float64
}

// NewSpikeAndSlabPrior builds a SpikeAndSlabPrior for the given mode,
// with the original's default hyperpriors (beta=1, alpha0=1, beta0=1)
// and one view per mode unless Data.SetViews was called beforehand.
func NewSpikeAndSlabPrior(mode, k int, train *data.Data, m *model.Model) *SpikeAndSlabPrior {
	nview := train.NView(mode)
	d := m.Dims()[mode]
	p := &SpikeAndSlabPrior{
		base:        newBase(mode, k, train, m),
		PriorBeta:   1,
		PriorAlpha0: 1,
		PriorBeta0:  1,
	}
	p.Zcol = zeros(k, nview)
	p.W2col = zeros(k, nview)
	p.Zkeep = constant(k, nview, float64(d))
	p.Alpha = constant(k, nview, 1)
	p.R = constant(k, nview, 0.5)
	p.initLogRLogAlpha()
	return p
}

func zeros(k, nview int) [][]float64     { return constant(k, nview, 0) }
func constant(k, nview int, v float64) [][]float64 {
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, nview)
		for j := range out[i] {
			out[i][j] = v
		}
	}
	return out
}

func (p *SpikeAndSlabPrior) initLogRLogAlpha() {
	k, nview := p.k, p.train.NView(p.mode)
	p.LogAlpha = make([][]float64, k)
	p.LogR = make([][]float64, k)
	for i := 0; i < k; i++ {
		p.LogAlpha[i] = make([]float64, nview)
		p.LogR[i] = make([]float64, nview)
		for v := 0; v < nview; v++ {
			p.LogAlpha[i][v] = math.Log(p.Alpha[i][v])
			p.LogR[i][v] = -math.Log(p.R[i][v]) + math.Log(1-p.R[i][v])
		}
	}
}

func (p *SpikeAndSlabPrior) SampleLatents(pool *rng.Pool) error {
	nview := p.train.NView(p.mode)
	localZ := make([][][]float64, pool.N())
	localW := make([][][]float64, pool.N())
	for w := range localZ {
		localZ[w] = zeros(p.k, nview)
		localW[w] = zeros(p.k, nview)
	}

	err := parallelColumns(pool, p.dCols(), func(s *rng.Stream, d int) error {
		return p.sampleColumn(s, d, pool, localZ, localW)
	})
	if err != nil {
		return err
	}

	for w := range localZ {
		for k := 0; k < p.k; k++ {
			for v := 0; v < nview; v++ {
				p.Zcol[k][v] += localZ[w][k][v]
				p.W2col[k][v] += localW[w][k][v]
			}
		}
	}
	return nil
}

// sampleColumn replaces NormalOnePrior's plain Gauss-Seidel sweep with
// spec §4.7's spike/slab per-k decision: the precision XX gets
// diag(alpha[:,view]) added before the coordinate update, and the
// drawn value is kept only with probability z, else zeroed.
func (p *SpikeAndSlabPrior) sampleColumn(s *rng.Stream, d int, pool *rng.Pool, localZ, localW [][][]float64) error {
	v := p.train.View(p.mode, d)
	rhs, prec, err := p.train.GetPNM(p.mode, d, p.k, p.m, s)
	if err != nil {
		return err
	}
	xx := mat.NewSymDense(p.k, nil)
	for i := 0; i < p.k; i++ {
		for j := i; j < p.k; j++ {
			val := prec.At(i, j)
			if i == j {
				val += p.Alpha[i][v]
			}
			xx.SetSym(i, j, val)
		}
	}

	u := p.m.U(p.mode)
	col := make([]float64, p.k)
	mat.Col(col, d, u)

	worker := workerIndexForColumn(pool, p.dCols(), d)

	for k := 0; k < p.k; k++ {
		mu, lambda := sampleLatentCoordinate(k, col, xx, rhs)
		z1 := p.LogR[k][v] - 0.5*(lambda*mu*mu-math.Log(lambda)+p.LogAlpha[k][v])
		z := 1 / (1 + math.Exp(z1))

		var newVal float64
		if p.Zkeep[k][v] > 0 && s.Uniform(0, 1) < z {
			newVal = mu + s.UnitNormal()/sqrtPositive(lambda)
			localZ[worker][k][v]++
			localW[worker][k][v] += newVal * newVal
		}
		col[k] = newVal
		u.Set(k, d, newVal)
	}
	return nil
}

// workerIndexForColumn recovers which worker owns column d under
// parallelColumns' contiguous-chunk partition, so the spike/slab
// accumulators land in that worker's thread-local slot without a lock.
func workerIndexForColumn(pool *rng.Pool, nCols, d int) int {
	nWorkers := pool.N()
	if nWorkers > nCols {
		nWorkers = nCols
	}
	if nWorkers < 1 {
		return 0
	}
	chunk := (nCols + nWorkers - 1) / nWorkers
	w := d / chunk
	if w >= nWorkers {
		w = nWorkers - 1
	}
	return w
}

// UpdatePrior resamples (r, alpha) per view from the folded Zkeep/W2col
// accumulators, then resets them for the next sweep (spec §4.7).
func (p *SpikeAndSlabPrior) UpdatePrior(s *rng.Stream) error {
	nview := p.train.NView(p.mode)

	zkeep := make([][]float64, p.k)
	for k := range zkeep {
		zkeep[k] = append([]float64(nil), p.Zcol[k]...)
	}
	p.Zkeep = zkeep

	for v := 0; v < nview; v++ {
		dv := float64(p.train.ViewSize(p.mode, v))
		for k := 0; k < p.k; k++ {
			p.R[k][v] = (p.Zkeep[k][v] + p.PriorBeta) / (dv + p.PriorBeta*dv)
			shape := p.Zkeep[k][v]/2 + p.PriorAlpha0
			rate := p.W2col[k][v]/2 + p.PriorBeta0
			p.Alpha[k][v] = s.Gamma(shape, 1/rate) + 1e-7
		}
	}
	p.initLogRLogAlpha()

	p.Zcol = zeros(p.k, nview)
	p.W2col = zeros(p.k, nview)
	return nil
}

func (p *SpikeAndSlabPrior) Save(prefix string) ([]string, error) {
	alphaPath := fmt.Sprintf("%s-prior%d-alpha.ddm", prefix, p.mode)
	rPath := fmt.Sprintf("%s-prior%d-r.ddm", prefix, p.mode)
	if err := iohandler.WriteDDM(alphaPath, rowsToDense(p.Alpha)); err != nil {
		return nil, err
	}
	if err := iohandler.WriteDDM(rPath, rowsToDense(p.R)); err != nil {
		return nil, err
	}
	return []string{alphaPath, rPath}, nil
}

func (p *SpikeAndSlabPrior) Restore(prefix string) error {
	alphaPath := fmt.Sprintf("%s-prior%d-alpha.ddm", prefix, p.mode)
	rPath := fmt.Sprintf("%s-prior%d-r.ddm", prefix, p.mode)
	alphaDense, err := iohandler.ReadDDM(alphaPath, nil)
	if err != nil {
		return err
	}
	p.Alpha = denseToRows(alphaDense)
	rDense, err := iohandler.ReadDDM(rPath, nil)
	if err != nil {
		return err
	}
	p.R = denseToRows(rDense)

	// Recompute Zkeep from which columns currently hold a nonzero entry,
	// mirroring SpikeAndSlabPrior::restore's reconstruction from U.
	nview := p.train.NView(p.mode)
	zkeep := zeros(p.k, nview)
	u := p.m.U(p.mode)
	for d := 0; d < p.dCols(); d++ {
		v := p.train.View(p.mode, d)
		for k := 0; k < p.k; k++ {
			if u.At(k, d) != 0 {
				zkeep[k][v]++
			}
		}
	}
	p.Zkeep = zkeep
	p.initLogRLogAlpha()
	return nil
}

func (p *SpikeAndSlabPrior) Status() string {
	nview := p.train.NView(p.mode)
	var s string
	for v := 0; v < nview; v++ {
		count := 0
		for k := 0; k < p.k; k++ {
			if p.Zkeep[k][v] > 0 {
				count++
			}
		}
		s += fmt.Sprintf("SpikeAndSlabPrior(mode=%d): Z[%d] = %d/%d\n", p.mode, v, count, p.k)
	}
	return s
}

func rowsToDense(rows [][]float64) *mat.Dense {
	k := len(rows)
	if k == 0 {
		return mat.NewDense(0, 0, nil)
	}
	nview := len(rows[0])
	d := mat.NewDense(k, nview, nil)
	for i, row := range rows {
		for j, v := range row {
			d.Set(i, j, v)
		}
	}
	return d
}

func denseToRows(d *mat.Dense) [][]float64 {
	k, nview := d.Dims()
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, nview)
		for j := range out[i] {
			out[i][j] = d.At(i, j)
		}
	}
	return out
}
