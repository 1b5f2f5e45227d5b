package ensemble

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/core/parallel"
	"github.com/revit3d/WebEnsemble/metrics"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/sklearn/tree"
)

// ForestMember is one tree of a forest and the columns it was trained on.
type ForestMember struct {
	Tree     *tree.DecisionTreeRegressor
	Features []int
}

func (m ForestMember) learner() *tree.DecisionTreeRegressor { return m.Tree }
func (m ForestMember) columns() []int                       { return m.Features }
func (m ForestMember) scale() float64                       { return 1 }

// RandomForestMSE averages regression trees fit on bootstrap rows and random columns.
type RandomForestMSE struct {
	base
	members []ForestMember
}

// NewRandomForestMSE creates an unfitted forest of nEstimators trees with
// DefaultRandomForestParams as the starting point.
func NewRandomForestMSE(nEstimators int, opts ...Option) *RandomForestMSE {
	return &RandomForestMSE{
		base: newBase("RandomForestMSE", nEstimators, DefaultRandomForestParams(nEstimators), opts),
	}
}

// Kind implements Ensemble.
func (rf *RandomForestMSE) Kind() Kind { return KindRandomForest }

// NMembers returns the number of fitted trees.
func (rf *RandomForestMSE) NMembers() int { return len(rf.members) }

// Members returns the fitted trees in fit order.
func (rf *RandomForestMSE) Members() []ForestMember {
	return append([]ForestMember(nil), rf.members...)
}

type forestPlan struct {
	rows     []int
	features []int
	seed     uint64
}

// Fit discards any previous members and trains NEstimators trees in parallel.
// All row and column samples are drawn from rng before the trees are fit; a
// nil rng is seeded from the process entropy source. The returned loss is the
// training MSE of the running mean of the first k trees.
func (rf *RandomForestMSE) Fit(rng *rand.Rand, X mat.Matrix, y mat.Vector, opts ...FitOption) (loss Loss, err error) {
	defer errors.Recover(&err, "RandomForestMSE.Fit")

	rf.members = nil
	rf.state.Reset()

	n, p, err := rf.checkFit(X, y, applyFitOptions(opts))
	if err != nil {
		return Loss{}, err
	}

	logger := rf.log().With(log.OperationKey, log.OperationFit)
	start := time.Now()
	rng = newRand(rng)

	k := featureSubsampleCount(rf.params.featureFraction(), p)
	m := bootstrapCount(n)
	plans := make([]forestPlan, rf.params.NEstimators)
	for i := range plans {
		plans[i] = forestPlan{
			features: sampleFeatures(rng, p, k),
			rows:     sampleRows(rng, n, m),
			seed:     rng.Uint64(),
		}
	}

	workers := min(parallel.Workers(rf.params.Workers), len(plans))
	members, err := parallel.Map(plans, workers, func(i int, plan forestPlan) (ForestMember, error) {
		t := tree.NewDecisionTreeRegressor(
			tree.WithConfig(rf.params.Tree),
			tree.WithMaxDepth(rf.params.MaxDepth),
			tree.WithRand(memberRand(plan.seed, i)),
		)
		if err := t.Fit(subset{m: X, rows: plan.rows, cols: plan.features}, rowSubset{v: y, rows: plan.rows}); err != nil {
			return ForestMember{}, errors.Wrapf(err, "RandomForestMSE member %d", i)
		}
		logger.Debug("member fitted", log.IterationKey, i, "leaves", t.NLeaves())
		return ForestMember{Tree: t, Features: plan.features}, nil
	})
	if err != nil {
		logger.Error("fit failed", log.ErrAttrKey, err)
		return Loss{}, err
	}

	outputs, err := memberOutputs(members, X, workers)
	if err != nil {
		return Loss{}, err
	}
	train, err := metrics.LossCurve(y, outputs, metrics.Mean)
	if err != nil {
		return Loss{}, err
	}

	rf.members = members
	rf.state.SetFitted(p, n)

	logger.Info("fit finished",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.MembersKey, len(members),
		log.WorkersKey, workers,
		log.LossKey, train[len(train)-1],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return Loss{Train: train}, nil
}

// Predict returns the mean prediction of the members, one value per row of X.
func (rf *RandomForestMSE) Predict(X mat.Matrix) (pred *mat.VecDense, err error) {
	defer errors.Recover(&err, "RandomForestMSE.Predict")

	rows, err := rf.checkPredict(X)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return &mat.VecDense{}, nil
	}
	workers := min(parallel.Workers(rf.params.Workers), len(rf.members))
	outputs, err := memberOutputs(rf.members, X, workers)
	if err != nil {
		return nil, err
	}
	return combine(outputs, rows, float64(len(outputs))), nil
}
