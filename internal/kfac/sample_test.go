package kfac

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/internal/mlp"
)

func TestCollectSamples_Shapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{4, 3, 2}
	params, err := mlp.InitRandomParams(rng, 0.1, sizes)
	require.NoError(t, err)

	inputs := mat.NewDense(6, 4, nil)
	for r := 0; r < 6; r++ {
		for c := 0; c < 4; c++ {
			inputs.Set(r, c, rng.NormFloat64())
		}
	}

	acts, grads, err := CollectSamples(params, inputs, 5, rng)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	require.Len(t, grads, 2)

	// acts[i] feeds layer i, grads[i] matches layer i's pre-activation.
	wantActCols := []int{4, 3}
	wantGradCols := []int{3, 2}
	for i := range acts {
		an, ac := acts[i].Dims()
		assert.Equal(t, 5, an)
		assert.Equal(t, wantActCols[i], ac)
		gn, gc := grads[i].Dims()
		assert.Equal(t, 5, gn)
		assert.Equal(t, wantGradCols[i], gc)
	}
}

// TestCollectSamples_LastLayerRowsSumToZero: each sampled gradient row of the
// output layer is onehot - softmax, which always sums to zero.
func TestCollectSamples_LastLayerRowsSumToZero(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	sizes := []int{3, 4, 3}
	params, err := mlp.InitRandomParams(rng, 0.2, sizes)
	require.NoError(t, err)

	inputs := mat.NewDense(8, 3, nil)
	for r := 0; r < 8; r++ {
		for c := 0; c < 3; c++ {
			inputs.Set(r, c, rng.NormFloat64())
		}
	}

	_, grads, err := CollectSamples(params, inputs, 8, rng)
	require.NoError(t, err)

	last := grads[len(grads)-1]
	n, k := last.Dims()
	for r := 0; r < n; r++ {
		var sum float64
		for c := 0; c < k; c++ {
			sum += last.At(r, c)
		}
		assert.InDelta(t, 0, sum, 1e-12, "row %d", r)
	}
}

// TestCollectSamples_FullDatasetBoundary: requesting as many samples as the
// batch holds must not fail, since the draw is with replacement.
func TestCollectSamples_FullDatasetBoundary(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	sizes := []int{3, 2}
	params, err := mlp.InitRandomParams(rng, 0.1, sizes)
	require.NoError(t, err)

	inputs := mat.NewDense(5, 3, nil)
	acts, grads, err := CollectSamples(params, inputs, 5, rng)
	require.NoError(t, err)
	n, _ := acts[0].Dims()
	assert.Equal(t, 5, n)
	n, _ = grads[0].Dims()
	assert.Equal(t, 5, n)
}

func TestCollectSamples_ContractViolations(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	params, err := mlp.InitRandomParams(rng, 0.1, []int{3, 2})
	require.NoError(t, err)

	_, _, err = CollectSamples(params, mat.NewDense(1, 3, nil), 0, rng)
	assert.Error(t, err)
}

// TestSampleOneHot_FollowsDistribution: with a near-degenerate distribution
// the draws must land on the dominant class almost always.
func TestSampleOneHot_FollowsDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	// log P = [log 0.999, log 0.0005, log 0.0005] per row
	logProbs := mat.NewDense(200, 3, nil)
	for r := 0; r < 200; r++ {
		logProbs.Set(r, 0, -0.0010005)
		logProbs.Set(r, 1, -7.600902)
		logProbs.Set(r, 2, -7.600902)
	}

	draws := sampleOneHot(logProbs, rng)
	var first float64
	for r := 0; r < 200; r++ {
		var rowSum float64
		for c := 0; c < 3; c++ {
			rowSum += draws.At(r, c)
		}
		assert.Equal(t, 1.0, rowSum, "each row is one-hot")
		first += draws.At(r, 0)
	}
	assert.Greater(t, first, 190.0)
}

func TestSampleBuffer_Lifecycle(t *testing.T) {
	sizes := []int{3, 2}
	buf, err := NewSampleBuffer(sizes)
	require.NoError(t, err)
	assert.True(t, buf.Empty())
	assert.Equal(t, 0, buf.NumBatches())

	act := mat.NewDense(2, 3, nil)
	grad := mat.NewDense(2, 2, nil)
	require.NoError(t, buf.Collect([]*mat.Dense{act}, []*mat.Dense{grad}))
	assert.False(t, buf.Empty())
	assert.Equal(t, 1, buf.NumBatches())

	// Reset is a fresh buffer; the old one is discarded wholesale.
	buf, err = NewSampleBuffer(sizes)
	require.NoError(t, err)
	assert.True(t, buf.Empty())
}
