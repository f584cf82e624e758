package kfac

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/mlp"
)

// Preconditioner holds, per layer, the damped inverses of the two Kronecker
// factors. It is rebuilt wholesale from a FactorEstimate and read every
// iteration; between rebuilds it may be stale relative to the latest
// estimate, which trades accuracy for amortized inversion cost.
type Preconditioner struct {
	Ainv []*mat.Dense
	Ginv []*mat.Dense
}

// ComputePrecond inverts every damped factor X + lambda·I.
//
// Lambda = 0 is allowed and yields the undamped inverse. A factor that is
// singular after damping returns ErrSingularFactor; an inverse containing
// non-finite entries returns ErrIllConditioned. The reference behavior was to
// let NaNs propagate silently, so these errors are the hardened surface of
// the same failure mode.
func ComputePrecond(est *FactorEstimate, lambda float64) (*Preconditioner, error) {
	if lambda < 0 {
		return nil, errors.Errorf("compute precond: lambda must be non-negative, got %v", lambda)
	}
	pre := &Preconditioner{
		Ainv: make([]*mat.Dense, len(est.A)),
		Ginv: make([]*mat.Dense, len(est.G)),
	}
	var err error
	for i := range est.A {
		if pre.Ainv[i], err = dampedInverse(est.A[i], lambda); err != nil {
			return nil, errors.Wrapf(err, "layer %d activation factor", i)
		}
		if pre.Ginv[i], err = dampedInverse(est.G[i], lambda); err != nil {
			return nil, errors.Wrapf(err, "layer %d gradient factor", i)
		}
	}
	return pre, nil
}

// ConditionNumbers returns the 2-norm condition number of every damped
// factor, as a per-layer [A, G] pair. Large values are an early warning of
// near-rank-deficiency (over-parameterized output layers, near-constant input
// regions); this is a monitoring aid, not a correctness gate.
func ConditionNumbers(est *FactorEstimate, lambda float64) [][2]float64 {
	conds := make([][2]float64, len(est.A))
	for i := range est.A {
		conds[i][0] = mat.Cond(damped(est.A[i], lambda), 2)
		conds[i][1] = mat.Cond(damped(est.G[i], lambda), 2)
	}
	return conds
}

// ApplyPrecond maps a raw parameter gradient to the natural gradient. Per
// layer it stacks the weight gradient and the bias gradient row into one
// augmented matrix and computes Ainv · grad · Ginv, then splits the bias row
// back off. Deterministic, stateless.
func ApplyPrecond(pre *Preconditioner, grad mlp.Params) (mlp.Params, error) {
	if len(grad) != len(pre.Ainv) {
		return nil, errors.Errorf("apply precond: gradient has %d layers, preconditioner has %d", len(grad), len(pre.Ainv))
	}
	nat := make(mlp.Params, len(grad))
	for i, g := range grad {
		in, out := g.W.Dims()
		if ar, _ := pre.Ainv[i].Dims(); ar != in+1 {
			return nil, errors.Errorf("apply precond: layer %d A-inverse is %d×%d, gradient needs %d", i, ar, ar, in+1)
		}

		aug := mat.NewDense(in+1, out, nil)
		for r := 0; r < in; r++ {
			aug.SetRow(r, g.W.RawRowView(r))
		}
		for c := 0; c < out; c++ {
			aug.Set(in, c, g.B.AtVec(c))
		}

		var tmp, natAug mat.Dense
		tmp.Mul(aug, pre.Ginv[i])
		natAug.Mul(pre.Ainv[i], &tmp)

		natW := mat.NewDense(in, out, nil)
		for r := 0; r < in; r++ {
			natW.SetRow(r, natAug.RawRowView(r))
		}
		natB := mat.NewVecDense(out, nil)
		for c := 0; c < out; c++ {
			natB.SetVec(c, natAug.At(in, c))
		}
		nat[i] = mlp.Layer{W: natW, B: natB}
	}
	return nat, nil
}

func damped(x *mat.Dense, lambda float64) *mat.Dense {
	n, _ := x.Dims()
	out := mat.DenseCopyOf(x)
	for i := 0; i < n; i++ {
		out.Set(i, i, out.At(i, i)+lambda)
	}
	return out
}

func dampedInverse(x *mat.Dense, lambda float64) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(damped(x, lambda)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return nil, errors.Wrap(ErrSingularFactor, err.Error())
		}
		// Ill-conditioned but invertible; the caller watches
		// ConditionNumbers for this.
	}
	if !allFinite(&inv) {
		return nil, ErrIllConditioned
	}
	return &inv, nil
}

func allFinite(x *mat.Dense) bool {
	n, _ := x.Dims()
	for r := 0; r < n; r++ {
		for _, v := range x.RawRowView(r) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
