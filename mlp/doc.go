// Copyright 2025 Kron ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package mlp provides the fully-connected network the kfac optimizer
// trains: affine layers with tanh activations, a linear last layer, and a
// log-softmax categorical output.
//
// The backward pass is explicit. PreactGradients returns the gradient of the
// log-likelihood with respect to every layer's pre-activation as a
// first-class result, which is exactly what the K-FAC Fisher sampler
// consumes; ParamGradients folds those into weight and bias gradients for the
// training objective.
//
// # Basic Usage
//
//	rng := rand.New(rand.NewSource(0))
//	params, err := mlp.InitRandomParams(rng, 0.1, []int{784, 200, 100, 10})
//
//	loss, grads, err := mlp.Objective(params, inputs, oneHotTargets)
//	logProbs, err := mlp.Predict(params, inputs)
package mlp
