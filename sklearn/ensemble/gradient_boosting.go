package ensemble

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/core/parallel"
	"github.com/revit3d/WebEnsemble/metrics"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/sklearn/tree"
)

// maxStep bounds the line-search step.
const maxStep = 1e9

// BoostingMember is one boosting step: a tree, its weight and its columns.
// Weight already includes the learning rate.
type BoostingMember struct {
	Tree     *tree.DecisionTreeRegressor
	Weight   float64
	Features []int
}

func (m BoostingMember) learner() *tree.DecisionTreeRegressor { return m.Tree }
func (m BoostingMember) columns() []int                       { return m.Features }
func (m BoostingMember) scale() float64                       { return m.Weight }

// GradientBoostingMSE is an additive sequence of regression trees fit to residuals.
type GradientBoostingMSE struct {
	base
	members []BoostingMember
}

// NewGradientBoostingMSE creates an unfitted booster of nEstimators steps with
// DefaultGradientBoostingParams as the starting point.
func NewGradientBoostingMSE(nEstimators int, opts ...Option) *GradientBoostingMSE {
	return &GradientBoostingMSE{
		base: newBase("GradientBoostingMSE", nEstimators, DefaultGradientBoostingParams(nEstimators), opts),
	}
}

// Kind implements Ensemble.
func (gb *GradientBoostingMSE) Kind() Kind { return KindGradientBoosting }

// NMembers returns the number of fitted steps.
func (gb *GradientBoostingMSE) NMembers() int { return len(gb.members) }

// Members returns the fitted steps in order.
func (gb *GradientBoostingMSE) Members() []BoostingMember {
	return append([]BoostingMember(nil), gb.members...)
}

// lineSearch returns the α in [0, maxStep] minimizing mean((pred + α·raw − y)²).
func lineSearch(y, pred, raw []float64) float64 {
	var num, den float64
	for i := range y {
		num += (y[i] - pred[i]) * raw[i]
		den += raw[i] * raw[i]
	}
	return errors.ClipValue(errors.SafeDivide(num, den), 0, maxStep)
}

// Fit discards any previous members and runs NEstimators boosting steps
// sequentially, starting from a zero prediction. Each step draws its columns
// and its tree seed from rng; a nil rng is seeded from the process entropy
// source. The returned loss is the training MSE after each step.
func (gb *GradientBoostingMSE) Fit(rng *rand.Rand, X mat.Matrix, y mat.Vector, opts ...FitOption) (loss Loss, err error) {
	defer errors.Recover(&err, "GradientBoostingMSE.Fit")

	gb.members = nil
	gb.state.Reset()

	n, p, err := gb.checkFit(X, y, applyFitOptions(opts))
	if err != nil {
		return Loss{}, err
	}

	logger := gb.log().With(log.OperationKey, log.OperationFit, log.LearningRateKey, gb.params.LearningRate)
	start := time.Now()
	rng = newRand(rng)

	target := make([]float64, n)
	for i := range target {
		target[i] = y.AtVec(i)
	}
	running := make([]float64, n)
	residual := make([]float64, n)

	k := featureSubsampleCount(gb.params.featureFraction(), p)
	members := make([]BoostingMember, 0, gb.params.NEstimators)
	outputs := make([]mat.Vector, 0, gb.params.NEstimators)

	for step := 0; step < gb.params.NEstimators; step++ {
		floats.SubTo(residual, target, running)

		features := sampleFeatures(rng, p, k)
		t := tree.NewDecisionTreeRegressor(
			tree.WithConfig(gb.params.Tree),
			tree.WithMaxDepth(gb.params.MaxDepth),
			tree.WithRand(memberRand(rng.Uint64(), step)),
		)
		Xs := subset{m: X, cols: features}
		if err := t.Fit(Xs, mat.NewVecDense(n, residual)); err != nil {
			logger.Error("fit failed", log.StepKey, step, log.ErrAttrKey, err)
			return Loss{}, errors.Wrapf(err, "GradientBoostingMSE step %d", step)
		}
		raw, err := t.Predict(Xs)
		if err != nil {
			return Loss{}, errors.Wrapf(err, "GradientBoostingMSE step %d", step)
		}

		alpha := lineSearch(target, running, raw.RawVector().Data)
		weight := gb.params.LearningRate * alpha
		if err := errors.CheckScalar("GradientBoostingMSE.lineSearch", weight, step); err != nil {
			return Loss{}, err
		}

		raw.ScaleVec(weight, raw)
		floats.Add(running, raw.RawVector().Data)

		members = append(members, BoostingMember{Tree: t, Weight: weight, Features: features})
		outputs = append(outputs, raw)
		logger.Debug("step fitted", log.StepKey, step, "alpha", alpha, "weight", weight)
	}

	train, err := metrics.LossCurve(y, outputs, metrics.Sum)
	if err != nil {
		return Loss{}, err
	}

	gb.members = members
	gb.state.SetFitted(p, n)

	logger.Info("fit finished",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.MembersKey, len(members),
		log.LossKey, train[len(train)-1],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return Loss{Train: train}, nil
}

// Predict returns the weighted sum of the members, one value per row of X.
func (gb *GradientBoostingMSE) Predict(X mat.Matrix) (pred *mat.VecDense, err error) {
	defer errors.Recover(&err, "GradientBoostingMSE.Predict")

	rows, err := gb.checkPredict(X)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return &mat.VecDense{}, nil
	}
	workers := min(parallel.Workers(gb.params.Workers), len(gb.members))
	outputs, err := memberOutputs(gb.members, X, workers)
	if err != nil {
		return nil, err
	}
	return combine(outputs, rows, 1), nil
}
