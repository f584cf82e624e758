package kfac

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/mlp"
)

// SampleBuffer accumulates activation and pre-activation-gradient sample
// batches, per layer, between factor re-estimations. Memory grows with each
// Collect and is released by discarding the buffer for a fresh one after
// re-estimation.
type SampleBuffer struct {
	acts  [][]*mat.Dense // acts[i] is the list of batches feeding layer i
	grads [][]*mat.Dense // grads[i] is the list of sampled gradient batches of layer i
}

// NewSampleBuffer returns an empty buffer with one slot per affine layer.
func NewSampleBuffer(sizes []int) (*SampleBuffer, error) {
	if err := mlp.ValidateLayerSizes(sizes); err != nil {
		return nil, err
	}
	layers := len(sizes) - 1
	return &SampleBuffer{
		acts:  make([][]*mat.Dense, layers),
		grads: make([][]*mat.Dense, layers),
	}, nil
}

// Collect appends one newly-sampled batch per layer.
func (b *SampleBuffer) Collect(acts, grads []*mat.Dense) error {
	if len(acts) != len(b.acts) || len(grads) != len(b.grads) {
		return errors.Errorf("collect: got %d activation and %d gradient batches, buffer has %d layers",
			len(acts), len(grads), len(b.acts))
	}
	for i := range b.acts {
		b.acts[i] = append(b.acts[i], acts[i])
		b.grads[i] = append(b.grads[i], grads[i])
	}
	return nil
}

// Empty reports whether no samples have been collected.
func (b *SampleBuffer) Empty() bool {
	return len(b.acts) == 0 || len(b.acts[0]) == 0
}

// NumBatches returns the number of collection events recorded.
func (b *SampleBuffer) NumBatches() int {
	if len(b.acts) == 0 {
		return 0
	}
	return len(b.acts[0])
}

// CollectSamples draws the statistics that define the approximate Fisher:
// it subsamples numSamples rows from the batch (with replacement), runs a
// forward pass, draws one one-hot target per row from the model's own
// predictive distribution, and differentiates the sampled log-likelihood back
// through the network. It returns the per-layer input activations of that
// forward pass and the per-layer pre-activation gradient samples.
//
// Targets are sampled from the model, not taken from training labels: the
// Fisher information is an expectation under the model's distribution, and
// substituting data labels would bias the curvature estimate.
func CollectSamples(p mlp.Params, inputs *mat.Dense, numSamples int, rng *rand.Rand) ([]*mat.Dense, []*mat.Dense, error) {
	n, d := inputs.Dims()
	if n == 0 {
		return nil, nil, errors.New("collect samples: empty input batch")
	}
	if numSamples <= 0 {
		return nil, nil, errors.Errorf("collect samples: numSamples must be positive, got %d", numSamples)
	}

	sub := mat.NewDense(numSamples, d, nil)
	for r := 0; r < numSamples; r++ {
		sub.SetRow(r, inputs.RawRowView(rng.Intn(n)))
	}

	trace, err := mlp.Forward(p, sub)
	if err != nil {
		return nil, nil, errors.Wrap(err, "collect samples")
	}

	// The draw happens on frozen log-probabilities; nothing differentiates
	// through the sampled targets themselves.
	targets := sampleOneHot(trace.LogProbs, rng)
	grads, err := mlp.PreactGradients(p, trace, targets)
	if err != nil {
		return nil, nil, errors.Wrap(err, "collect samples")
	}
	return trace.Activations, grads, nil
}

// sampleOneHot draws one one-hot row per input row from the categorical
// distribution given by that row's log-probabilities, by walking the
// cumulative distribution.
func sampleOneHot(logProbs *mat.Dense, rng *rand.Rand) *mat.Dense {
	n, k := logProbs.Dims()
	out := mat.NewDense(n, k, nil)
	for r := 0; r < n; r++ {
		lp := logProbs.RawRowView(r)
		u := rng.Float64()
		idx := k - 1
		var cum float64
		for c := 0; c < k; c++ {
			cum += math.Exp(lp[c])
			if u <= cum {
				idx = c
				break
			}
		}
		out.Set(r, idx, 1)
	}
	return out
}
