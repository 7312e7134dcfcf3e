package data

import (
	"math"

	"github.com/smurff-go/smurff/internal/rng"
	"gonum.org/v1/gonum/stat/distuv"
)

// Noise models the per-cell likelihood term Data mixes into get_pnm (spec
// §4.3): fixed and adaptive Gaussian noise contribute the observed value
// itself at some precision; probit noise replaces the observed 0/1 label
// by a freshly augmented Gaussian latent.
type Noise interface {
	// Sample returns the effective target value and precision for one
	// observed cell given its raw value and the model's current
	// prediction for that cell (needed by probit to augment a latent).
	Sample(s *rng.Stream, value, pred float64) (effValue, precision float64)
	// Update resamples any noise hyperparameters from the sum of squared
	// residuals accumulated over a full sweep (adaptive Gaussian only;
	// fixed and probit noise ignore it).
	Update(s *rng.Stream, sqResidualSum float64, n int)
	// Alpha reports the current (possibly just-updated) precision.
	Alpha() float64
}

// FixedGaussianNoise uses a known, constant precision alpha.
type FixedGaussianNoise struct {
	alpha float64
}

// NewFixedGaussianNoise builds a FixedGaussianNoise with precision alpha.
func NewFixedGaussianNoise(alpha float64) *FixedGaussianNoise {
	return &FixedGaussianNoise{alpha: alpha}
}

func (n *FixedGaussianNoise) Sample(_ *rng.Stream, value, _ float64) (float64, float64) {
	return value, n.alpha
}

func (n *FixedGaussianNoise) Update(*rng.Stream, float64, int) {}

func (n *FixedGaussianNoise) Alpha() float64 { return n.alpha }

// AdaptiveGaussianNoise draws its precision from a Gamma posterior each
// sweep, conjugate to a Gamma(alpha0, beta0) prior on alpha given the
// observed residual sum of squares.
type AdaptiveGaussianNoise struct {
	alpha        float64
	alpha0, beta0 float64
	alphaMax     float64
}

// NewAdaptiveGaussianNoise builds an AdaptiveGaussianNoise starting at
// initAlpha, with Gamma(alpha0, beta0) hyperpriors and an upper clamp
// alphaMax guarding against runaway precision on near-exact fits (the
// source's SN_MAX convention).
func NewAdaptiveGaussianNoise(initAlpha, alpha0, beta0, alphaMax float64) *AdaptiveGaussianNoise {
	return &AdaptiveGaussianNoise{alpha: initAlpha, alpha0: alpha0, beta0: beta0, alphaMax: alphaMax}
}

func (n *AdaptiveGaussianNoise) Sample(_ *rng.Stream, value, _ float64) (float64, float64) {
	return value, n.alpha
}

func (n *AdaptiveGaussianNoise) Update(s *rng.Stream, sqResidualSum float64, nobs int) {
	if nobs == 0 {
		return
	}
	shape := n.alpha0 + float64(nobs)/2
	rate := n.beta0 + sqResidualSum/2
	scale := 1 / rate
	a := s.Gamma(shape, scale)
	if n.alphaMax > 0 && a > n.alphaMax {
		a = n.alphaMax
	}
	n.alpha = a
}

func (n *AdaptiveGaussianNoise) Alpha() float64 { return n.alpha }

// ProbitNoise treats observed values as 0/1 class labels and augments
// each observation with a latent Gaussian drawn from a normal centered
// at the current prediction, truncated to the half-line matching the
// label's sign (Albert & Chib augmentation). Its effective precision is
// always 1, since the latent already absorbs the noise scale.
type ProbitNoise struct{}

// NewProbitNoise builds a ProbitNoise model.
func NewProbitNoise() *ProbitNoise { return &ProbitNoise{} }

func (n *ProbitNoise) Sample(s *rng.Stream, value, pred float64) (float64, float64) {
	positive := value > 0
	return truncatedNormal(s, pred, positive), 1
}

func (n *ProbitNoise) Update(*rng.Stream, float64, int) {}

func (n *ProbitNoise) Alpha() float64 { return 1 }

var unitNormal = distuv.Normal{Mu: 0, Sigma: 1}

// truncatedNormal draws from N(mean, 1) truncated to (0, +inf) if
// positive, else to (-inf, 0), via the inverse-CDF method.
func truncatedNormal(s *rng.Stream, mean float64, positive bool) float64 {
	lowerTailProb := unitNormal.CDF(-mean)
	var u float64
	if positive {
		u = lowerTailProb + s.Uniform(0, 1)*(1-lowerTailProb)
	} else {
		u = s.Uniform(0, 1) * lowerTailProb
	}
	u = math.Min(math.Max(u, 1e-12), 1-1e-12)
	return mean + unitNormal.Quantile(u)
}
