package mlp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Trace is the record of one forward pass: the input activation of every
// layer plus the final log-probabilities.
//
// Activations[i] is the batch that feeds layer i, so Activations[0] is the
// network input and Activations[i] = tanh(pre-activation of layer i-1) for
// i > 0. These are exactly the statistics the Fisher sampler needs, and they
// carry everything the backward pass needs to differentiate through tanh.
type Trace struct {
	Activations []*mat.Dense
	LogProbs    *mat.Dense
}

// Forward evaluates the network on a batch of row-vector inputs, recording
// every layer input. The last layer is linear; its output is mapped to
// log-probabilities with a log-softmax.
func Forward(p Params, inputs *mat.Dense) (*Trace, error) {
	if len(p) == 0 {
		return nil, errors.New("forward: empty params")
	}
	n, d := inputs.Dims()
	if n == 0 {
		return nil, errors.New("forward: empty input batch")
	}
	if in, _ := p[0].W.Dims(); d != in {
		return nil, errors.Errorf("forward: input width %d does not match first layer width %d", d, in)
	}

	activations := make([]*mat.Dense, len(p))
	activations[0] = inputs

	var preact *mat.Dense
	for i, layer := range p {
		preact = affine(activations[i], layer)
		if i+1 < len(p) {
			activations[i+1] = tanhOf(preact)
		}
	}
	return &Trace{Activations: activations, LogProbs: logSoftmax(preact)}, nil
}

// Predict returns the log-probabilities for a batch of inputs.
func Predict(p Params, inputs *mat.Dense) (*mat.Dense, error) {
	trace, err := Forward(p, inputs)
	if err != nil {
		return nil, err
	}
	return trace.LogProbs, nil
}

// LogLikelihood returns sum(logprobs ⊙ targets) for a batch of (typically
// one-hot) target rows.
func LogLikelihood(p Params, inputs, targets *mat.Dense) (float64, error) {
	trace, err := Forward(p, inputs)
	if err != nil {
		return 0, err
	}
	tn, tk := targets.Dims()
	ln, lk := trace.LogProbs.Dims()
	if tn != ln || tk != lk {
		return 0, errors.Errorf("log likelihood: targets are (%d, %d), log probs are (%d, %d)", tn, tk, ln, lk)
	}
	var sum float64
	for r := 0; r < tn; r++ {
		lp := trace.LogProbs.RawRowView(r)
		tg := targets.RawRowView(r)
		for c := range tg {
			sum += lp[c] * tg[c]
		}
	}
	return sum, nil
}

// affine computes x·W + B row-wise.
func affine(x *mat.Dense, layer Layer) *mat.Dense {
	var out mat.Dense
	out.Mul(x, layer.W)
	n, k := out.Dims()
	for r := 0; r < n; r++ {
		row := out.RawRowView(r)
		for c := 0; c < k; c++ {
			row[c] += layer.B.AtVec(c)
		}
	}
	return &out
}

func tanhOf(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	return &out
}

// logSoftmax subtracts the row-wise log-sum-exp, computed against the row
// maximum so large logits do not overflow.
func logSoftmax(x *mat.Dense) *mat.Dense {
	n, k := x.Dims()
	out := mat.NewDense(n, k, nil)
	for r := 0; r < n; r++ {
		row := x.RawRowView(r)
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - max)
		}
		lse := max + math.Log(sum)
		dst := out.RawRowView(r)
		for c := 0; c < k; c++ {
			dst[c] = row[c] - lse
		}
	}
	return out
}
