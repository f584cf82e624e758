package kfac

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/mlp"
)

// FactorEstimate holds the two Kronecker factors per layer. A[i] is the
// activation-side second moment, square of size sizes[i]+1 — the extra row
// and column come from the homogeneous coordinate that folds the bias into
// the weight statistic. G[i] is the gradient-side second moment, square of
// size sizes[i+1].
//
// Both slices are always fully populated; layers are never updated as a
// partial subset.
type FactorEstimate struct {
	A []*mat.Dense
	G []*mat.Dense
}

// InitFactorEstimates returns identity factors for every layer.
func InitFactorEstimates(sizes []int) (*FactorEstimate, error) {
	if err := mlp.ValidateLayerSizes(sizes); err != nil {
		return nil, err
	}
	layers := len(sizes) - 1
	est := &FactorEstimate{
		A: make([]*mat.Dense, layers),
		G: make([]*mat.Dense, layers),
	}
	for i := 0; i < layers; i++ {
		est.A[i] = eye(sizes[i] + 1)
		est.G[i] = eye(sizes[i+1])
	}
	return est, nil
}

// AppendHomogCoord returns x with a constant 1-valued column appended, so the
// bias contribution appears in the same second moment as the weights.
func AppendHomogCoord(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	out := mat.NewDense(n, d+1, nil)
	for r := 0; r < n; r++ {
		copy(out.RawRowView(r)[:d], x.RawRowView(r))
		out.RawRowView(r)[d] = 1
	}
	return out
}

// UpdateFactorEstimates folds the buffered samples into fresh factor
// estimates. Per layer, the empirical second moment is the sum of Xᵀ·X over
// all buffered batches divided by the total row count across those batches —
// one global normalization, not a mean of per-batch means. Activation batches
// are augmented with the homogeneous coordinate first; gradient batches are
// not.
//
// The result blends with the previous estimate as eps·old + (1-eps)·new. Note
// the orientation: eps weights the OLD estimate. This is the complement of
// the usual smoothing convention and is preserved deliberately; inverting it
// would change the optimizer's step response.
func UpdateFactorEstimates(old *FactorEstimate, buf *SampleBuffer, eps float64) (*FactorEstimate, error) {
	if buf == nil || buf.Empty() {
		return nil, errors.Wrap(ErrEmptyBuffer, "update factor estimates")
	}
	if eps < 0 || eps >= 1 {
		return nil, errors.Errorf("update factor estimates: eps must be in [0, 1), got %v", eps)
	}
	if len(old.A) != len(buf.acts) {
		return nil, errors.Errorf("update factor estimates: estimate has %d layers, buffer has %d", len(old.A), len(buf.acts))
	}

	next := &FactorEstimate{
		A: make([]*mat.Dense, len(old.A)),
		G: make([]*mat.Dense, len(old.G)),
	}
	for i := range old.A {
		aHat := secondMoment(buf.acts[i], true)
		gHat := secondMoment(buf.grads[i], false)
		next.A[i] = blend(old.A[i], aHat, eps)
		next.G[i] = blend(old.G[i], gHat, eps)
	}
	return next, nil
}

// secondMoment sums Xᵀ·X over the batches and divides by the total number of
// rows, optionally appending the homogeneous coordinate to each batch first.
func secondMoment(batches []*mat.Dense, homog bool) *mat.Dense {
	var total int
	var sum *mat.Dense
	for _, batch := range batches {
		x := batch
		if homog {
			x = AppendHomogCoord(x)
		}
		n, _ := x.Dims()
		total += n

		var sq mat.Dense
		sq.Mul(x.T(), x)
		if sum == nil {
			sum = &sq
		} else {
			sum.Add(sum, &sq)
		}
	}
	sum.Scale(1/float64(total), sum)
	return sum
}

// blend computes eps·old + (1-eps)·new.
func blend(old, new *mat.Dense, eps float64) *mat.Dense {
	var a, b mat.Dense
	a.Scale(eps, old)
	b.Scale(1-eps, new)
	a.Add(&a, &b)
	return &a
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
