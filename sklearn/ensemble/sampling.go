package ensemble

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// baggingFraction is the expected share of distinct rows in a bootstrap sample.
var baggingFraction = 1 - 1/math.E

// featureSubsampleCount returns round(fraction × nFeatures) clamped to [1, nFeatures].
func featureSubsampleCount(fraction float64, nFeatures int) int {
	k := int(math.Round(fraction * float64(nFeatures)))
	if k < 1 {
		errors.Warn(errors.NewSubsampleWarning("feature_subsample_size", fraction, 1, nFeatures))
		return 1
	}
	return min(k, nFeatures)
}

// bootstrapCount returns round((1 − 1/e) × nSamples), at least 1.
func bootstrapCount(nSamples int) int {
	return max(1, int(math.Round(baggingFraction*float64(nSamples))))
}

// sampleFeatures draws k of n column indices without replacement, sorted ascending.
func sampleFeatures(rng *rand.Rand, n, k int) []int {
	features := rng.Perm(n)[:k]
	slices.Sort(features)
	return features
}

// sampleRows draws k of n row indices with replacement.
func sampleRows(rng *rand.Rand, n, k int) []int {
	rows := make([]int, k)
	for i := range rows {
		rows[i] = rng.IntN(n)
	}
	return rows
}

// newRand returns rng, or a generator seeded from the process entropy source.
func newRand(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// memberRand derives the generator of member i from a seed drawn up front.
func memberRand(seed uint64, i int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(i)))
}

// subset is a read-only view of selected rows and columns of a matrix.
// A nil rows slice selects every row.
type subset struct {
	m    mat.Matrix
	rows []int
	cols []int
}

func (s subset) Dims() (r, c int) {
	if s.rows == nil {
		r, _ = s.m.Dims()
		return r, len(s.cols)
	}
	return len(s.rows), len(s.cols)
}

func (s subset) At(i, j int) float64 {
	if s.rows != nil {
		i = s.rows[i]
	}
	return s.m.At(i, s.cols[j])
}

func (s subset) T() mat.Matrix { return mat.Transpose{Matrix: s} }

// rowSubset is a read-only view of selected entries of a vector.
type rowSubset struct {
	v    mat.Vector
	rows []int
}

func (s rowSubset) Dims() (r, c int)     { return len(s.rows), 1 }
func (s rowSubset) At(i, j int) float64 { return s.v.AtVec(s.rows[i]) }
func (s rowSubset) AtVec(i int) float64 { return s.v.AtVec(s.rows[i]) }
func (s rowSubset) Len() int            { return len(s.rows) }
func (s rowSubset) T() mat.Matrix       { return mat.TransposeVec{Vector: s} }
