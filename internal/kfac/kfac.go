// Package kfac implements a Kronecker-Factored Approximate Curvature (K-FAC)
// preconditioner for natural-gradient descent on fully-connected networks.
//
// The Fisher information matrix of the model is approximated block-diagonally,
// one block per layer, and each block as the Kronecker product of two small
// second-moment matrices: an activation-side factor and a gradient-side
// factor. Both are estimated from samples of the model's own distribution
// (self-sampled Fisher), tracked with an exponential moving average, inverted
// with diagonal damping, and applied to the raw gradient as
// Ainv · grad · Ginv per layer.
//
// The pipeline is single-threaded and synchronous. All optimizer state
// (parameters, sample buffer, factor estimates, preconditioner) is threaded
// through the loop by replacement — no shared mutable state, no package-level
// accumulation.
package kfac

import (
	"log"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/mlp"
)

// Objective evaluates the training loss at params for iteration i and returns
// the loss with its gradient, shaped layer-for-layer like the parameters.
// It must be deterministic given (params, i) for reproducible runs.
type Objective func(params mlp.Params, i int) (float64, mlp.Params, error)

// BatchFunc supplies the input batch used for Fisher sampling at iteration i.
// It must be deterministic given i; the batching policy is the caller's.
type BatchFunc func(i int) (*mat.Dense, error)

// Config holds the K-FAC hyperparameters.
type Config struct {
	StepSize float64 // gradient-descent step magnitude
	NumIters int     // total iterations
	Lambda   float64 // inversion damping added to every factor diagonal, >= 0

	// Eps is the exponential-moving-average weight on the OLD factor
	// estimate: new = Eps*old + (1-Eps)*empirical. This is the complement of
	// the usual smoothing convention; Eps close to 1 means the estimate
	// barely moves. Must lie in [0, 1).
	Eps float64

	NumSamples          int // rows drawn (with replacement) per collection event
	SamplePeriod        int // collect samples every SamplePeriod iterations
	ReestimatePeriod    int // re-estimate factors every ReestimatePeriod iterations
	UpdatePrecondPeriod int // rebuild the preconditioner every UpdatePrecondPeriod iterations

	Seed    int64 // sampling RNG seed
	Verbose bool  // log per-iteration loss and factor condition numbers

	// Logger receives diagnostics when Verbose is set. Defaults to the
	// standard logger.
	Logger *log.Logger
}

// Validate checks the hyperparameter ranges.
func (c Config) Validate() error {
	if c.StepSize <= 0 {
		return errors.Errorf("kfac config: step size must be positive, got %v", c.StepSize)
	}
	if c.NumIters <= 0 {
		return errors.Errorf("kfac config: num iters must be positive, got %d", c.NumIters)
	}
	if c.Lambda < 0 {
		return errors.Errorf("kfac config: lambda must be non-negative, got %v", c.Lambda)
	}
	if c.Eps < 0 || c.Eps >= 1 {
		return errors.Errorf("kfac config: eps must be in [0, 1), got %v", c.Eps)
	}
	if c.NumSamples <= 0 {
		return errors.Errorf("kfac config: num samples must be positive, got %d", c.NumSamples)
	}
	if c.SamplePeriod <= 0 || c.ReestimatePeriod <= 0 || c.UpdatePrecondPeriod <= 0 {
		return errors.Errorf("kfac config: periods must be positive, got sample=%d reestimate=%d precond=%d",
			c.SamplePeriod, c.ReestimatePeriod, c.UpdatePrecondPeriod)
	}
	return nil
}

// Run trains for cfg.NumIters iterations and returns the final parameters.
//
// Each iteration: evaluate the objective and its gradient; every SamplePeriod
// iterations, draw a Fisher sample batch and buffer it; every
// ReestimatePeriod iterations, fold the buffer into the factor estimates and
// discard it; every UpdatePrecondPeriod iterations, rebuild the damped
// inverses; precondition the step's gradient with the current (possibly
// stale) preconditioner; take a plain descent step in the natural-gradient
// direction. Parameters are replaced, never mutated in place.
//
// Factor estimates start at identity and the preconditioner at the damped
// identity inverse, so early iterations behave like plain (scaled) gradient
// descent until statistics arrive.
func Run(cfg Config, objective Objective, getBatch BatchFunc, sizes []int, initParams mlp.Params) (mlp.Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := initParams.Validate(sizes); err != nil {
		return nil, errors.Wrap(err, "kfac: init params")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	buffer, err := NewSampleBuffer(sizes)
	if err != nil {
		return nil, err
	}
	factors, err := InitFactorEstimates(sizes)
	if err != nil {
		return nil, err
	}
	precond, err := ComputePrecond(factors, cfg.Lambda)
	if err != nil {
		return nil, errors.Wrap(err, "kfac: initial preconditioner")
	}

	params := initParams
	for i := 0; i < cfg.NumIters; i++ {
		loss, grad, err := objective(params, i)
		if err != nil {
			return nil, errors.Wrapf(err, "kfac: objective at iteration %d", i)
		}

		if (i+1)%cfg.SamplePeriod == 0 {
			batch, err := getBatch(i)
			if err != nil {
				return nil, errors.Wrapf(err, "kfac: batch at iteration %d", i)
			}
			acts, gradSamples, err := CollectSamples(params, batch, cfg.NumSamples, rng)
			if err != nil {
				return nil, errors.Wrapf(err, "kfac: sampling at iteration %d", i)
			}
			if err := buffer.Collect(acts, gradSamples); err != nil {
				return nil, errors.Wrapf(err, "kfac: sampling at iteration %d", i)
			}
		}

		if (i+1)%cfg.ReestimatePeriod == 0 {
			factors, err = UpdateFactorEstimates(factors, buffer, cfg.Eps)
			if err != nil {
				return nil, errors.Wrapf(err, "kfac: re-estimation at iteration %d", i)
			}
			if buffer, err = NewSampleBuffer(sizes); err != nil {
				return nil, err
			}
		}

		if (i+1)%cfg.UpdatePrecondPeriod == 0 {
			precond, err = ComputePrecond(factors, cfg.Lambda)
			if err != nil {
				return nil, errors.Wrapf(err, "kfac: preconditioner at iteration %d", i)
			}
		}

		if cfg.Verbose {
			logger.Printf("iter %d: loss=%.6f factor conds=%v", i, loss, ConditionNumbers(factors, cfg.Lambda))
		}

		natGrad, err := ApplyPrecond(precond, grad)
		if err != nil {
			return nil, errors.Wrapf(err, "kfac: preconditioning at iteration %d", i)
		}
		params = updateParams(params, natGrad, cfg.StepSize)
	}
	return params, nil
}

// updateParams returns fresh parameters with every layer stepped against its
// natural gradient.
func updateParams(params, natGrad mlp.Params, stepSize float64) mlp.Params {
	next := make(mlp.Params, len(params))
	for i, layer := range params {
		var w mat.Dense
		w.Scale(stepSize, natGrad[i].W)
		w.Sub(layer.W, &w)

		var b mat.VecDense
		b.ScaleVec(stepSize, natGrad[i].B)
		b.SubVec(layer.B, &b)

		next[i] = mlp.Layer{W: &w, B: &b}
	}
	return next
}
