// Copyright 2025 Kron ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package kfac

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/kfac"
	"github.com/kron-ml/kron/mlp"
)

// Config holds the K-FAC hyperparameters.
type Config = kfac.Config

// Objective evaluates the training loss and its parameter gradient.
type Objective = kfac.Objective

// BatchFunc supplies the Fisher-sampling input batch for an iteration.
type BatchFunc = kfac.BatchFunc

// SampleBuffer accumulates activation/gradient samples between factor
// re-estimations.
type SampleBuffer = kfac.SampleBuffer

// FactorEstimate holds the per-layer Kronecker factor pair.
type FactorEstimate = kfac.FactorEstimate

// Preconditioner holds the per-layer damped factor inverses.
type Preconditioner = kfac.Preconditioner

// Sentinel errors surfaced by the pipeline.
var (
	ErrEmptyBuffer    = kfac.ErrEmptyBuffer
	ErrSingularFactor = kfac.ErrSingularFactor
	ErrIllConditioned = kfac.ErrIllConditioned
)

// Run trains for Config.NumIters iterations and returns the final parameters.
func Run(cfg Config, objective Objective, getBatch BatchFunc, sizes []int, initParams mlp.Params) (mlp.Params, error) {
	return kfac.Run(cfg, objective, getBatch, sizes, initParams)
}

// NewSampleBuffer returns an empty per-layer sample buffer.
func NewSampleBuffer(sizes []int) (*SampleBuffer, error) {
	return kfac.NewSampleBuffer(sizes)
}

// CollectSamples draws one self-sampled Fisher sample batch from the model.
func CollectSamples(p mlp.Params, inputs *mat.Dense, numSamples int, rng *rand.Rand) ([]*mat.Dense, []*mat.Dense, error) {
	return kfac.CollectSamples(p, inputs, numSamples, rng)
}

// InitFactorEstimates returns identity factors for every layer.
func InitFactorEstimates(sizes []int) (*FactorEstimate, error) {
	return kfac.InitFactorEstimates(sizes)
}

// UpdateFactorEstimates folds buffered samples into fresh factor estimates
// with an exponential moving average (eps weights the old estimate).
func UpdateFactorEstimates(old *FactorEstimate, buf *SampleBuffer, eps float64) (*FactorEstimate, error) {
	return kfac.UpdateFactorEstimates(old, buf, eps)
}

// ComputePrecond inverts every damped factor X + lambda·I.
func ComputePrecond(est *FactorEstimate, lambda float64) (*Preconditioner, error) {
	return kfac.ComputePrecond(est, lambda)
}

// ConditionNumbers returns the condition number of every damped factor.
func ConditionNumbers(est *FactorEstimate, lambda float64) [][2]float64 {
	return kfac.ConditionNumbers(est, lambda)
}

// ApplyPrecond maps a raw parameter gradient to the natural gradient.
func ApplyPrecond(pre *Preconditioner, grad mlp.Params) (mlp.Params, error) {
	return kfac.ApplyPrecond(pre, grad)
}
