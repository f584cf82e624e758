package kfac

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestInitFactorEstimates_IdentitySizes(t *testing.T) {
	sizes := []int{4, 3, 2}
	est, err := InitFactorEstimates(sizes)
	require.NoError(t, err)
	require.Len(t, est.A, 2)
	require.Len(t, est.G, 2)

	// A-factors carry the homogeneous coordinate: one wider than the layer
	// input.
	wantA := []int{5, 4}
	wantG := []int{3, 2}
	for i := range est.A {
		ar, ac := est.A[i].Dims()
		assert.Equal(t, wantA[i], ar)
		assert.Equal(t, wantA[i], ac)
		gr, gc := est.G[i].Dims()
		assert.Equal(t, wantG[i], gr)
		assert.Equal(t, wantG[i], gc)

		assertIdentity(t, est.A[i])
		assertIdentity(t, est.G[i])
	}
}

func TestInitFactorEstimates_BadSizes(t *testing.T) {
	_, err := InitFactorEstimates([]int{4})
	assert.Error(t, err)
}

func TestAppendHomogCoord_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := mat.NewDense(3, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			x.Set(r, c, rng.NormFloat64())
		}
	}

	aug := AppendHomogCoord(x)
	n, d := aug.Dims()
	assert.Equal(t, 3, n)
	assert.Equal(t, 5, d)

	for r := 0; r < 3; r++ {
		assert.Equal(t, 1.0, aug.At(r, 4))
		// Dropping the last column recovers the original exactly.
		for c := 0; c < 4; c++ {
			assert.Equal(t, x.At(r, c), aug.At(r, c))
		}
	}
}

// TestUpdateFactorEstimates_EpsZero collects the identical batch twice; with
// eps=0 the EMA collapses to the empirical second moment, which equals the
// single-batch moment because the duplicate cancels in the global
// normalization.
func TestUpdateFactorEstimates_EpsZero(t *testing.T) {
	sizes := []int{3, 2}
	rng := rand.New(rand.NewSource(2))

	act := mat.NewDense(4, 3, nil)
	grad := mat.NewDense(4, 2, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 3; c++ {
			act.Set(r, c, rng.NormFloat64())
		}
		for c := 0; c < 2; c++ {
			grad.Set(r, c, rng.NormFloat64())
		}
	}

	buf, err := NewSampleBuffer(sizes)
	require.NoError(t, err)
	require.NoError(t, buf.Collect([]*mat.Dense{act}, []*mat.Dense{grad}))
	require.NoError(t, buf.Collect([]*mat.Dense{act}, []*mat.Dense{grad}))
	assert.Equal(t, 2, buf.NumBatches())

	old, err := InitFactorEstimates(sizes)
	require.NoError(t, err)
	est, err := UpdateFactorEstimates(old, buf, 0)
	require.NoError(t, err)

	// Expected A: homog(act)ᵀ·homog(act) / 4.
	aug := AppendHomogCoord(act)
	var wantA mat.Dense
	wantA.Mul(aug.T(), aug)
	wantA.Scale(1.0/4.0, &wantA)
	assertMatEqual(t, &wantA, est.A[0], 1e-12)

	var wantG mat.Dense
	wantG.Mul(grad.T(), grad)
	wantG.Scale(1.0/4.0, &wantG)
	assertMatEqual(t, &wantG, est.G[0], 1e-12)

	// The identity initialization must leave no trace at eps=0.
	assert.NotEqual(t, 1.0, est.A[0].At(0, 0))
}

// TestUpdateFactorEstimates_SmoothingDominance: with eps near 1 the new
// estimate barely moves from the old one, whatever the samples say.
func TestUpdateFactorEstimates_SmoothingDominance(t *testing.T) {
	sizes := []int{3, 2}
	rng := rand.New(rand.NewSource(3))

	act := mat.NewDense(4, 3, nil)
	grad := mat.NewDense(4, 2, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 3; c++ {
			act.Set(r, c, 10 * rng.NormFloat64())
		}
		for c := 0; c < 2; c++ {
			grad.Set(r, c, 10 * rng.NormFloat64())
		}
	}

	buf, err := NewSampleBuffer(sizes)
	require.NoError(t, err)
	require.NoError(t, buf.Collect([]*mat.Dense{act}, []*mat.Dense{grad}))

	old, err := InitFactorEstimates(sizes)
	require.NoError(t, err)
	est, err := UpdateFactorEstimates(old, buf, 0.9999)
	require.NoError(t, err)

	// Moments of 10·N(0,1) samples are O(100); the blended estimate must
	// still sit within a small distance of the identity.
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			diff := est.A[0].At(r, c) - old.A[0].At(r, c)
			assert.InDelta(t, 0, diff, 0.1)
		}
	}
}

func TestUpdateFactorEstimates_EmptyBuffer(t *testing.T) {
	sizes := []int{3, 2}
	buf, err := NewSampleBuffer(sizes)
	require.NoError(t, err)
	old, err := InitFactorEstimates(sizes)
	require.NoError(t, err)

	_, err = UpdateFactorEstimates(old, buf, 0.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyBuffer))
}

func TestUpdateFactorEstimates_BadEps(t *testing.T) {
	sizes := []int{3, 2}
	buf, err := NewSampleBuffer(sizes)
	require.NoError(t, err)
	require.NoError(t, buf.Collect(
		[]*mat.Dense{mat.NewDense(1, 3, []float64{1, 2, 3})},
		[]*mat.Dense{mat.NewDense(1, 2, []float64{1, 2})},
	))
	old, err := InitFactorEstimates(sizes)
	require.NoError(t, err)

	_, err = UpdateFactorEstimates(old, buf, 1.0)
	assert.Error(t, err)
	_, err = UpdateFactorEstimates(old, buf, -0.1)
	assert.Error(t, err)
}

func TestSampleBuffer_CollectValidation(t *testing.T) {
	buf, err := NewSampleBuffer([]int{3, 2})
	require.NoError(t, err)
	assert.True(t, buf.Empty())

	err = buf.Collect([]*mat.Dense{mat.NewDense(1, 3, nil)}, nil)
	assert.Error(t, err)
}

func assertIdentity(t *testing.T, m *mat.Dense) {
	t.Helper()
	n, _ := m.Dims()
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			want := 0.0
			if r == c {
				want = 1.0
			}
			assert.Equal(t, want, m.At(r, c))
		}
	}
}

func assertMatEqual(t *testing.T, want, got *mat.Dense, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, wr, gr)
	require.Equal(t, wc, gc)
	for r := 0; r < wr; r++ {
		for c := 0; c < wc; c++ {
			assert.InDelta(t, want.At(r, c), got.At(r, c), tol, "entry (%d, %d)", r, c)
		}
	}
}
