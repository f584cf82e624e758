// Copyright 2025 Kron ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package mlp

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/mlp"
)

// Layer holds one affine layer's weight matrix and bias vector.
type Layer = mlp.Layer

// Params is the full parameter set, one Layer per affine layer. It doubles as
// the shape of parameter gradients.
type Params = mlp.Params

// Trace records one forward pass: every layer's input activation plus the
// final log-probabilities.
type Trace = mlp.Trace

// ValidateLayerSizes checks that sizes defines at least one affine layer with
// positive widths.
func ValidateLayerSizes(sizes []int) error {
	return mlp.ValidateLayerSizes(sizes)
}

// InitRandomParams builds parameters with weights and biases drawn from
// scale·N(0, 1).
func InitRandomParams(rng *rand.Rand, scale float64, sizes []int) (Params, error) {
	return mlp.InitRandomParams(rng, scale, sizes)
}

// Forward evaluates the network on a batch of row vectors, recording every
// layer input.
func Forward(p Params, inputs *mat.Dense) (*Trace, error) {
	return mlp.Forward(p, inputs)
}

// Predict returns log-probabilities for a batch of inputs.
func Predict(p Params, inputs *mat.Dense) (*mat.Dense, error) {
	return mlp.Predict(p, inputs)
}

// LogLikelihood returns sum(logprobs ⊙ targets).
func LogLikelihood(p Params, inputs, targets *mat.Dense) (float64, error) {
	return mlp.LogLikelihood(p, inputs, targets)
}

// PreactGradients returns the gradient of the target log-likelihood with
// respect to every layer's pre-activation.
func PreactGradients(p Params, trace *Trace, targets *mat.Dense) ([]*mat.Dense, error) {
	return mlp.PreactGradients(p, trace, targets)
}

// ParamGradients folds per-layer pre-activation gradients into parameter
// gradients.
func ParamGradients(trace *Trace, preactGrads []*mat.Dense) Params {
	return mlp.ParamGradients(trace, preactGrads)
}

// Objective returns the negative log-likelihood and its parameter gradient.
func Objective(p Params, inputs, targets *mat.Dense) (float64, Params, error) {
	return mlp.Objective(p, inputs, targets)
}
