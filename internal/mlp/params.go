// Package mlp implements the multi-layer perceptron the natural-gradient
// optimizer trains: a stack of affine layers with tanh activations, a linear
// last layer, and a log-softmax categorical output.
//
// Unlike autodiff-based frameworks, the backward pass here is explicit and
// exposes the gradient of the log-likelihood with respect to every layer's
// pre-activation as a first-class result (see PreactGradients). The K-FAC
// sampler consumes those per-layer gradients directly.
package mlp

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Layer holds one affine layer's weight matrix and bias vector.
//
// For a layer mapping `in` units to `out` units, W has shape (in, out) and
// B has length out. Inputs are batches of row vectors, so the layer computes
// x·W + B per row.
type Layer struct {
	W *mat.Dense
	B *mat.VecDense
}

// Params is the full parameter set of a multi-layer perceptron, one Layer per
// affine layer. Layer i maps sizes[i] units to sizes[i+1] units.
//
// Params is also used for parameter gradients, which are shaped
// layer-for-layer identically to the parameters themselves.
type Params []Layer

// ValidateLayerSizes checks that sizes defines at least one affine layer and
// that every width is positive.
func ValidateLayerSizes(sizes []int) error {
	if len(sizes) < 2 {
		return errors.Errorf("layer sizes must have at least 2 entries (input and output), got %d", len(sizes))
	}
	for i, n := range sizes {
		if n <= 0 {
			return errors.Errorf("layer sizes must be positive, got %d at index %d", n, i)
		}
	}
	return nil
}

// Validate checks that p matches the given layer sizes shape-for-shape.
func (p Params) Validate(sizes []int) error {
	if err := ValidateLayerSizes(sizes); err != nil {
		return err
	}
	if len(p) != len(sizes)-1 {
		return errors.Errorf("params have %d layers, layer sizes define %d", len(p), len(sizes)-1)
	}
	for i, layer := range p {
		if layer.W == nil || layer.B == nil {
			return errors.Errorf("layer %d has nil weight or bias", i)
		}
		r, c := layer.W.Dims()
		if r != sizes[i] || c != sizes[i+1] {
			return errors.Errorf("layer %d weight is (%d, %d), want (%d, %d)", i, r, c, sizes[i], sizes[i+1])
		}
		if layer.B.Len() != sizes[i+1] {
			return errors.Errorf("layer %d bias has length %d, want %d", i, layer.B.Len(), sizes[i+1])
		}
	}
	return nil
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for i, layer := range p {
		w := mat.DenseCopyOf(layer.W)
		b := mat.VecDenseCopyOf(layer.B)
		out[i] = Layer{W: w, B: b}
	}
	return out
}

// InitRandomParams builds parameters for the given layer sizes with every
// weight and bias drawn from scale·N(0, 1).
func InitRandomParams(rng *rand.Rand, scale float64, sizes []int) (Params, error) {
	if err := ValidateLayerSizes(sizes); err != nil {
		return nil, err
	}
	params := make(Params, len(sizes)-1)
	for i := range params {
		in, out := sizes[i], sizes[i+1]
		w := mat.NewDense(in, out, nil)
		for r := 0; r < in; r++ {
			for c := 0; c < out; c++ {
				w.Set(r, c, scale*rng.NormFloat64())
			}
		}
		b := mat.NewVecDense(out, nil)
		for c := 0; c < out; c++ {
			b.SetVec(c, scale*rng.NormFloat64())
		}
		params[i] = Layer{W: w, B: b}
	}
	return params, nil
}
