package tree

import (
	"math/rand/v2"
	"slices"
)

// constantTol is the spread below which feature values count as equal.
const constantTol = 1e-7

// impurityEps is the node variance, relative to the mean squared target,
// below which a node counts as pure.
const impurityEps = 1e-12

// candidate is the best split found for a node.
type candidate struct {
	feature   int
	threshold float64
	// improvement is N_t × (imp − N_L/N_t × imp_L − N_R/N_t × imp_R).
	improvement float64
}

// splitter searches splits over column-major data.
type splitter struct {
	cols        [][]float64 // cols[feature][sample]
	y           []float64
	nTotal      int
	kind        Splitter
	maxFeatures int
	minLeaf     int
	minDecrease float64
	rng         *rand.Rand

	features []int
	order    []int
}

func newSplitter(cols [][]float64, y []float64, cfg Config, minLeaf int, rng *rand.Rand) *splitter {
	nFeatures := len(cols)
	maxFeatures := cfg.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > nFeatures {
		maxFeatures = nFeatures
	}

	features := make([]int, nFeatures)
	for i := range features {
		features[i] = i
	}

	return &splitter{
		cols:        cols,
		y:           y,
		nTotal:      len(y),
		kind:        cfg.Splitter,
		maxFeatures: maxFeatures,
		minLeaf:     minLeaf,
		minDecrease: cfg.MinImpurityDecrease,
		rng:         rng,
		features:    features,
		order:       make([]int, len(y)),
	}
}

// sums returns Σy and Σy² over inx.
func (s *splitter) sums(inx []int) (sum, sumSq float64) {
	for _, i := range inx {
		sum += s.y[i]
		sumSq += s.y[i] * s.y[i]
	}
	return sum, sumSq
}

// find returns the best split of inx, or false when no split improves the node
// by at least the configured decrease.
func (s *splitter) find(inx []int, sum float64) (candidate, bool) {
	best := candidate{improvement: 0}
	found := false

	// features are drawn without replacement and constant ones do not count
	// toward maxFeatures
	examined := 0
	for j := len(s.features) - 1; j >= 0 && examined < s.maxFeatures; j-- {
		k := s.rng.IntN(j + 1)
		s.features[k], s.features[j] = s.features[j], s.features[k]
		f := s.features[j]

		var c candidate
		var ok, constant bool
		if s.kind == SplitterRandom {
			c, ok, constant = s.randomSplit(f, inx, sum)
		} else {
			c, ok, constant = s.bestSplit(f, inx, sum)
		}
		if constant {
			continue
		}
		examined++
		if ok && c.improvement > best.improvement {
			best = c
			found = true
		}
	}

	if !found || best.improvement/float64(s.nTotal) < s.minDecrease {
		return candidate{}, false
	}
	return best, true
}

// bestSplit sweeps every distinct value of feature f using prefix sums.
func (s *splitter) bestSplit(f int, inx []int, sum float64) (c candidate, ok, constant bool) {
	x := s.cols[f]
	order := s.order[:len(inx)]
	copy(order, inx)
	slices.SortFunc(order, func(a, b int) int {
		switch {
		case x[a] < x[b]:
			return -1
		case x[a] > x[b]:
			return 1
		default:
			return a - b
		}
	})

	n := len(order)
	if x[order[n-1]] <= x[order[0]]+constantTol {
		return candidate{}, false, true
	}

	parent := sum * sum / float64(n)
	var sumL float64
	for i := 1; i < n; i++ {
		sumL += s.y[order[i-1]]
		lo, hi := x[order[i-1]], x[order[i]]
		if hi <= lo+constantTol {
			continue
		}
		if i < s.minLeaf || n-i < s.minLeaf {
			continue
		}

		nL, nR := float64(i), float64(n-i)
		sumR := sum - sumL
		improvement := sumL*sumL/nL + sumR*sumR/nR - parent
		if improvement > c.improvement {
			c = candidate{feature: f, threshold: midpoint(lo, hi), improvement: improvement}
			ok = true
		}
	}
	return c, ok, false
}

// randomSplit evaluates one uniform threshold in [min, max) of feature f.
func (s *splitter) randomSplit(f int, inx []int, sum float64) (c candidate, ok, constant bool) {
	x := s.cols[f]
	lo, hi := x[inx[0]], x[inx[0]]
	for _, i := range inx[1:] {
		lo = min(lo, x[i])
		hi = max(hi, x[i])
	}
	if hi <= lo+constantTol {
		return candidate{}, false, true
	}

	threshold := lo + s.rng.Float64()*(hi-lo)
	var sumL float64
	var nLeft int
	for _, i := range inx {
		if x[i] <= threshold {
			sumL += s.y[i]
			nLeft++
		}
	}
	n := len(inx)
	if nLeft < s.minLeaf || n-nLeft < s.minLeaf {
		return candidate{}, false, false
	}

	nL, nR := float64(nLeft), float64(n-nLeft)
	sumR := sum - sumL
	improvement := sumL*sumL/nL + sumR*sumR/nR - sum*sum/float64(n)
	if improvement <= 0 {
		return candidate{}, false, false
	}
	return candidate{feature: f, threshold: threshold, improvement: improvement}, true, false
}

// midpoint returns a threshold t with lo <= t < hi.
func midpoint(lo, hi float64) float64 {
	t := lo + (hi-lo)/2
	if t >= hi {
		return lo
	}
	return t
}

// partition reorders inx so that samples with x[f] <= threshold come first and
// returns the size of that prefix.
func partition(x []float64, inx []int, threshold float64) int {
	i, j := 0, len(inx)
	for i < j {
		if x[inx[i]] <= threshold {
			i++
		} else {
			j--
			inx[j], inx[i] = inx[i], inx[j]
		}
	}
	return i
}
