package mlp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PreactGradients returns the gradient of sum(logprobs ⊙ targets) with
// respect to every layer's pre-activation, outermost layer last. The result
// has one (batch, sizes[i+1]) matrix per layer.
//
// This is the explicit-backward replacement for the reference's
// extra-bias-tap autodiff trick: per-layer pre-activation gradients are a
// first-class output rather than a byproduct of differentiating dummy biases.
func PreactGradients(p Params, trace *Trace, targets *mat.Dense) ([]*mat.Dense, error) {
	if trace == nil || len(trace.Activations) != len(p) {
		return nil, errors.New("preact gradients: trace does not match params")
	}
	tn, tk := targets.Dims()
	ln, lk := trace.LogProbs.Dims()
	if tn != ln || tk != lk {
		return nil, errors.Errorf("preact gradients: targets are (%d, %d), log probs are (%d, %d)", tn, tk, ln, lk)
	}

	grads := make([]*mat.Dense, len(p))

	// Last layer: d sum(T ⊙ logsoftmax(s)) / ds = T - softmax(s)·rowsum(T).
	last := mat.NewDense(tn, tk, nil)
	for r := 0; r < tn; r++ {
		tg := targets.RawRowView(r)
		lp := trace.LogProbs.RawRowView(r)
		var rowSum float64
		for _, v := range tg {
			rowSum += v
		}
		dst := last.RawRowView(r)
		for c := 0; c < tk; c++ {
			dst[c] = tg[c] - math.Exp(lp[c])*rowSum
		}
	}
	grads[len(p)-1] = last

	// Hidden layers: dL/ds_{i-1} = (dL/ds_i · Wᵢᵀ) ⊙ (1 - aᵢ²),
	// where aᵢ = tanh(s_{i-1}) is the recorded input of layer i.
	for i := len(p) - 1; i > 0; i-- {
		var dAct mat.Dense
		dAct.Mul(grads[i], p[i].W.T())

		act := trace.Activations[i]
		n, k := dAct.Dims()
		for r := 0; r < n; r++ {
			da := dAct.RawRowView(r)
			a := act.RawRowView(r)
			for c := 0; c < k; c++ {
				da[c] *= 1 - a[c]*a[c]
			}
		}
		grads[i-1] = &dAct
	}
	return grads, nil
}

// ParamGradients folds per-layer pre-activation gradients into parameter
// gradients: dW_i = aᵢᵀ · dsᵢ, db_i = column sums of dsᵢ.
func ParamGradients(trace *Trace, preactGrads []*mat.Dense) Params {
	grads := make(Params, len(preactGrads))
	for i, ds := range preactGrads {
		var dW mat.Dense
		dW.Mul(trace.Activations[i].T(), ds)

		n, k := ds.Dims()
		db := mat.NewVecDense(k, nil)
		for r := 0; r < n; r++ {
			row := ds.RawRowView(r)
			for c := 0; c < k; c++ {
				db.SetVec(c, db.AtVec(c)+row[c])
			}
		}
		grads[i] = Layer{W: &dW, B: db}
	}
	return grads
}

// Objective returns the negative log-likelihood of targets under the model
// together with its gradient with respect to every parameter. The gradient is
// shaped layer-for-layer like the parameters.
func Objective(p Params, inputs, targets *mat.Dense) (float64, Params, error) {
	trace, err := Forward(p, inputs)
	if err != nil {
		return 0, nil, err
	}
	preact, err := PreactGradients(p, trace, targets)
	if err != nil {
		return 0, nil, err
	}

	var loglik float64
	n, k := targets.Dims()
	for r := 0; r < n; r++ {
		lp := trace.LogProbs.RawRowView(r)
		tg := targets.RawRowView(r)
		for c := 0; c < k; c++ {
			loglik += lp[c] * tg[c]
		}
	}

	grads := ParamGradients(trace, preact)
	for i := range grads {
		grads[i].W.Scale(-1, grads[i].W)
		grads[i].B.ScaleVec(-1, grads[i].B)
	}
	return -loglik, grads, nil
}
