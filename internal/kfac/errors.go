package kfac

import "github.com/pkg/errors"

// Sentinel errors for the statistics and preconditioning pipeline. Callers
// can test for them with errors.Is after unwrapping.
var (
	// ErrEmptyBuffer is returned when a factor re-estimation is requested
	// before any samples were collected. This is a caller-contract violation:
	// the empirical second moment of zero samples is undefined.
	ErrEmptyBuffer = errors.New("kfac: sample buffer is empty")

	// ErrSingularFactor is returned when a damped factor matrix cannot be
	// inverted. With Lambda = 0 this arises structurally, e.g. from an
	// over-parameterized output layer whose Fisher block is rank-deficient.
	ErrSingularFactor = errors.New("kfac: damped factor is singular")

	// ErrIllConditioned is returned when inversion produced non-finite
	// entries. The reference behavior would let the NaNs corrupt every
	// subsequent iteration; here training stops instead.
	ErrIllConditioned = errors.New("kfac: factor inverse has non-finite entries")
)
