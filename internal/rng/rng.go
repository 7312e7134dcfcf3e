// Package rng supplies the sampler's seeded, thread-local random draws:
// uniforms, normals, gammas, multivariate normals and Wishart matrices.
//
// A single seedable master stream is partitioned into one substream per
// worker at pool creation (§4.1); draws within a worker are deterministic
// once the seed and worker index are fixed, matching the ordering
// guarantees of spec §5 ("results are identical to serial execution in
// distribution... but RNG substreams differ").
package rng

import (
	"math"
	"math/rand/v2"

	"github.com/smurff-go/smurff/internal/errs"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Stream is a single worker's private RNG. It is not safe for concurrent
// use; each worker in the thread pool owns exactly one.
type Stream struct {
	r    *rand.Rand
	seed uint64
	id   int
}

// Pool partitions a master seed into per-worker substreams.
type Pool struct {
	seed    uint64
	streams []*Stream
}

// NewPool builds n worker substreams from the given master seed. Substream
// i is seeded from splitmix64(seed, i) so that the same (seed, n) pair
// always reproduces the same per-worker draws.
func NewPool(seed uint64, n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{seed: seed, streams: make([]*Stream, n)}
	for i := range p.streams {
		p.streams[i] = newStream(seed, i)
	}
	return p
}

func newStream(masterSeed uint64, workerID int) *Stream {
	s0 := splitmix64(masterSeed + uint64(workerID)*0x9E3779B97F4A7C15)
	s1 := splitmix64(s0)
	src := rand.NewPCG(s0, s1)
	return &Stream{r: rand.New(src), seed: masterSeed, id: workerID}
}

// splitmix64 decorrelates adjacent worker seeds so that substream i and
// i+1 do not share obviously related state.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Worker returns the substream for worker i; indices outside [0, n)
// wrap modulo n. Substreams are never created lazily.
func (p *Pool) Worker(i int) *Stream { return p.streams[i%len(p.streams)] }

// N returns the number of substreams in the pool.
func (p *Pool) N() int { return len(p.streams) }

// Seed returns the master seed this pool was built from, needed so
// Session can persist it for checkpoint round-trip (spec §6).
func (p *Pool) Seed() uint64 { return p.seed }

// Source exposes the underlying math/rand/v2 source, for distuv/distmv
// types that take one directly.
func (s *Stream) Source() rand.Source { return s.r }

// Uniform draws from Uniform(a, b).
func (s *Stream) Uniform(a, b float64) float64 {
	return a + (b-a)*s.r.Float64()
}

// UnitNormal draws a single N(0,1) sample.
func (s *Stream) UnitNormal() float64 {
	return s.normFloat64()
}

// normFloat64 is the single point of contact with the underlying PRNG's
// normal generator, kept private so every normal draw in this package
// routes through one implementation.
func (s *Stream) normFloat64() float64 {
	return s.r.NormFloat64()
}

// Gamma draws from Gamma(shape, scale) using gonum's distuv.Gamma, which
// parameterizes by rate (Beta = 1/scale).
func (s *Stream) Gamma(shape, scale float64) float64 {
	if shape <= 0 || scale <= 0 {
		return 0
	}
	g := distuv.Gamma{Alpha: shape, Beta: 1 / scale, Src: s.r}
	return g.Rand()
}

// Bernoulli draws a 0/1 outcome with P(1) = p.
func (s *Stream) Bernoulli(p float64) float64 {
	if s.r.Float64() < p {
		return 1
	}
	return 0
}

// Intn draws a uniform integer in [0, n).
func (s *Stream) Intn(n int) int { return s.r.IntN(n) }

// Perm returns a random permutation of [0, n), for any caller needing a
// shuffled order.
func (s *Stream) Perm(n int) []int {
	p := s.r.Perm(n)
	return p
}

// NormalMatrix fills dst with i.i.d. N(0,1) entries (bmrandn).
func (s *Stream) NormalMatrix(dst *mat.Dense) {
	r, c := dst.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, s.normFloat64())
		}
	}
}

// NormalVector returns a length-n slice of i.i.d. N(mean, stddev²)
// entries. Model initialization uses NormalMatrix instead.
func (s *Stream) NormalVector(n int, mean, stddev float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + stddev*s.normFloat64()
	}
	return out
}

// MvNormal draws a single length-K sample from N(mu, Sigma): it
// Cholesky-factorizes Sigma itself and hands the factor to
// distmv.NewNormalChol. Fails with a NumericalError if Sigma is not SPD.
func (s *Stream) MvNormal(mu []float64, sigma mat.Symmetric) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return nil, errs.Numericalf("rng.MvNormal", "covariance not positive definite")
	}
	n := distmv.NewNormalChol(mu, &chol, s.r)
	return n.Rand(nil), nil
}

// MvNormalFromPrecision draws from N(mu, Lambda^-1) given the precision
// matrix Lambda directly, which is the form NormalPrior actually carries
// (posterior precision, not covariance), via distmv.NewNormalPrecision.
func (s *Stream) MvNormalFromPrecision(mu []float64, lambda mat.Symmetric) ([]float64, error) {
	prec := mat.NewSymDense(lambda.SymmetricDim(), nil)
	prec.CopySym(lambda)
	n, ok := distmv.NewNormalPrecision(mu, prec, s.r)
	if !ok {
		return nil, errs.Numericalf("rng.MvNormalFromPrecision", "precision matrix not positive definite")
	}
	return n.Rand(nil), nil
}

// Wishart draws a K x K SPD matrix from Wishart(W, nu) via the Bartlett
// decomposition: if W = L L^T (Cholesky) and A is lower-triangular with
// A[i][i] ~ sqrt(Chi2(nu-i)) and A[i][j] ~ N(0,1) for i>j, then
// L A A^T L^T ~ Wishart(W, nu).
func (s *Stream) Wishart(w mat.Symmetric, nu float64) (*mat.SymDense, error) {
	k := w.SymmetricDim()
	if nu < float64(k) {
		return nil, errs.Numericalf("rng.Wishart", "degrees of freedom %.1f below dimension %d", nu, k)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(w); !ok {
		return nil, errs.Numericalf("rng.Wishart", "scale matrix not positive definite")
	}
	var l mat.TriDense
	chol.LTo(&l)

	a := mat.NewTriDense(k, mat.Lower, nil)
	for i := 0; i < k; i++ {
		chi2Shape := (nu - float64(i)) / 2
		g := distuv.Gamma{Alpha: chi2Shape, Beta: 0.5, Src: s.r}
		a.SetTri(i, i, math.Sqrt(g.Rand()))
		for j := 0; j < i; j++ {
			a.SetTri(i, j, s.normFloat64())
		}
	}

	var la mat.Dense
	la.Mul(&l, a)
	var sample mat.Dense
	sample.Mul(&la, la.T())

	data := make([]float64, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			data[i*k+j] = 0.5 * (sample.At(i, j) + sample.At(j, i))
		}
	}
	return mat.NewSymDense(k, data), nil
}
