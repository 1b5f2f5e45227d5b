package metrics

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/core/parallel"
	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// Aggregation selects how member outputs are combined into a prefix prediction.
type Aggregation int

const (
	// Mean averages the first k outputs (random forest).
	Mean Aggregation = iota
	// Sum adds the first k outputs, which are expected to be weighted already (boosting).
	Sum
)

// lossCurveThreshold is the row count below which LossCurve stays sequential.
const lossCurveThreshold = 2048

// LossCurve returns, for every k in 1..len(outputs), the MSE between y and
// the aggregation of the first k member outputs. Rows are processed in
// parallel and partial sums are merged in row order, so the result does not
// depend on scheduling.
func LossCurve(y mat.Vector, outputs []mat.Vector, agg Aggregation) ([]float64, error) {
	n := y.Len()
	if n == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "LossCurve")
	}
	for _, out := range outputs {
		if out.Len() != n {
			return nil, errors.NewDimensionError("LossCurve", n, out.Len(), 0)
		}
	}
	k := len(outputs)
	if k == 0 {
		return []float64{}, nil
	}

	var mu sync.Mutex
	partials := make(map[int][]float64)

	parallel.ParallelizeWithThreshold(n, lossCurveThreshold, func(start, end int) {
		sq := make([]float64, k)
		for i := start; i < end; i++ {
			yi := y.AtVec(i)
			var running float64
			for j, out := range outputs {
				running += out.AtVec(i)
				pred := running
				if agg == Mean {
					pred = running / float64(j+1)
				}
				d := pred - yi
				sq[j] += d * d
			}
		}
		mu.Lock()
		partials[start] = sq
		mu.Unlock()
	})

	starts := make([]int, 0, len(partials))
	for s := range partials {
		starts = append(starts, s)
	}
	sort.Ints(starts)

	curve := make([]float64, k)
	for _, s := range starts {
		for j, v := range partials[s] {
			curve[j] += v
		}
	}
	for j := range curve {
		curve[j] /= float64(n)
	}
	return curve, nil
}
