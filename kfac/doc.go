// Copyright 2025 Kron ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package kfac provides a K-FAC (Kronecker-Factored Approximate Curvature)
// natural-gradient optimizer for fully-connected classifiers.
//
// # Overview
//
// K-FAC approximates the Fisher information matrix block-diagonally, one
// block per layer, and each block as the Kronecker product of two small
// second-moment matrices. Preconditioning the gradient with their damped
// inverses turns plain gradient descent into an approximate natural-gradient
// method at a fraction of the cost of a full second-order update.
//
// The statistics pipeline is: sample one-hot targets from the model's own
// predictive distribution, backpropagate the sampled log-likelihood to get
// per-layer pre-activation gradients, buffer those together with the layer
// input activations, fold them into exponentially-smoothed factor estimates,
// and periodically invert the damped factors.
//
// # Basic Usage
//
//	import (
//	    "github.com/kron-ml/kron/kfac"
//	    "github.com/kron-ml/kron/mlp"
//	)
//
//	func main() {
//	    sizes := []int{784, 200, 100, 10}
//	    rng := rand.New(rand.NewSource(0))
//	    params, _ := mlp.InitRandomParams(rng, 0.1, sizes)
//
//	    objective := func(p mlp.Params, i int) (float64, mlp.Params, error) {
//	        x, y := batchAt(i)
//	        return mlp.Objective(p, x, y)
//	    }
//	    getBatch := func(i int) (*mat.Dense, error) { x, _ := batchAt(i); return x, nil }
//
//	    trained, err := kfac.Run(kfac.Config{
//	        StepSize:            1e-3,
//	        NumIters:            1000,
//	        NumSamples:          1024,
//	        SamplePeriod:        10,
//	        ReestimatePeriod:    20,
//	        UpdatePrecondPeriod: 20,
//	        Lambda:              0.01,
//	        Eps:                 0.05,
//	    }, objective, getBatch, sizes, params)
//	    ...
//	}
//
// # Scope
//
// The optimizer is specific to networks of dense affine layers with a
// categorical (softmax) likelihood on the output. Convolutional and recurrent
// layers, other likelihood families, and adaptive damping are out of scope.
package kfac
