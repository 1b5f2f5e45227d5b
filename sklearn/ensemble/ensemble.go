package ensemble

import (
	"encoding"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/core/model"
	"github.com/revit3d/WebEnsemble/core/parallel"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/sklearn/tree"
)

// Kind selects an ensemble algorithm.
type Kind string

const (
	KindRandomForest     Kind = "random_forest"
	KindGradientBoosting Kind = "gradient_boosting"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRandomForest, KindGradientBoosting:
		return Kind(s), nil
	default:
		return "", errors.NewValidationError("kind", "must be 'random_forest' or 'gradient_boosting'", s)
	}
}

// DefaultParams returns the defaults of kind.
func (k Kind) DefaultParams(nEstimators int) Params {
	if k == KindGradientBoosting {
		return DefaultGradientBoostingParams(nEstimators)
	}
	return DefaultRandomForestParams(nEstimators)
}

// Loss holds the loss trajectory of a fit: entry k is the MSE of the first k+1 members.
type Loss struct {
	Train      []float64 `json:"train_loss"`
	Validation []float64 `json:"val_loss,omitempty"`
}

// Ensemble is the behaviour shared by both ensemble kinds.
type Ensemble interface {
	model.Predictor
	model.Named
	model.ParameterGetter
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	Kind() Kind
	Params() Params
	Fit(rng *rand.Rand, X mat.Matrix, y mat.Vector, opts ...FitOption) (Loss, error)
	IsFitted() bool
	NMembers() int
}

// New creates an unfitted ensemble of kind with params.
func New(kind Kind, params Params, opts ...Option) (Ensemble, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opts = append([]Option{withParams(params)}, opts...)
	switch kind {
	case KindRandomForest:
		return NewRandomForestMSE(params.NEstimators, opts...), nil
	case KindGradientBoosting:
		return NewGradientBoostingMSE(params.NEstimators, opts...), nil
	default:
		_, err := ParseKind(string(kind))
		return nil, err
	}
}

// FitOption configures a single Fit call.
type FitOption func(*fitOptions)

type fitOptions struct {
	xVal mat.Matrix
	yVal mat.Vector
}

// WithValidation passes held-out data to Fit. Validation loss is not
// supported yet: Fit fails with an UnsupportedFeatureError.
func WithValidation(X mat.Matrix, y mat.Vector) FitOption {
	return func(o *fitOptions) {
		o.xVal = X
		o.yVal = y
	}
}

func applyFitOptions(opts []FitOption) fitOptions {
	var o fitOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o fitOptions) hasValidation() bool {
	return o.xVal != nil || o.yVal != nil
}

// base holds what both ensembles share.
type base struct {
	name   string
	params Params
	logger log.Logger
	state  *model.StateManager
}

func newBase(name string, nEstimators int, defaults Params, opts []Option) base {
	s := settings{params: defaults}
	s.params.NEstimators = nEstimators
	for _, opt := range opts {
		opt(&s)
	}
	return base{
		name:   name,
		params: s.params,
		logger: s.logger,
		state:  model.NewStateManager(),
	}
}

// Name implements model.Named.
func (b *base) Name() string { return b.name }

// Params returns the hyperparameters.
func (b *base) Params() Params { return b.params }

// GetParams implements model.ParameterGetter.
func (b *base) GetParams() map[string]interface{} { return b.params.GetParams() }

// IsFitted reports whether Fit has succeeded.
func (b *base) IsFitted() bool { return b.state.IsFitted() }

func (b *base) log() log.Logger {
	l := b.logger
	if l == nil {
		l = log.GetLoggerWithName("ensemble")
	}
	return l.With(log.ModelNameKey, b.name)
}

// checkFit validates the inputs of Fit and returns the data shape.
func (b *base) checkFit(X mat.Matrix, y mat.Vector, o fitOptions) (n, p int, err error) {
	if o.hasValidation() {
		return 0, 0, errors.NewUnsupportedFeatureError(b.name, "validation loss")
	}
	if err := b.params.Validate(); err != nil {
		return 0, 0, err
	}
	n, p = X.Dims()
	if n == 0 || p == 0 {
		return 0, 0, errors.Wrapf(errors.ErrEmptyData, "%s.Fit", b.name)
	}
	if y.Len() != n {
		return 0, 0, errors.NewDimensionError(b.name+".Fit", n, y.Len(), 0)
	}
	return n, p, nil
}

// checkPredict verifies the fitted state and the column count of X.
func (b *base) checkPredict(X mat.Matrix) (rows int, err error) {
	if err := b.state.RequireFitted(b.name, "Predict"); err != nil {
		return 0, err
	}
	rows, cols := X.Dims()
	if err := b.state.CheckFeatures(b.name+".Predict", cols); err != nil {
		return 0, err
	}
	return rows, nil
}

// member is a fitted tree restricted to its columns.
type member interface {
	learner() *tree.DecisionTreeRegressor
	columns() []int
	scale() float64
}

// memberOutputs predicts with every member on its own columns of X, each output
// scaled by the member weight. Outputs are in member order. X must have rows.
func memberOutputs[M member](members []M, X mat.Matrix, workers int) ([]mat.Vector, error) {
	return parallel.Map(members, workers, func(i int, m M) (mat.Vector, error) {
		out, err := m.learner().Predict(subset{m: X, cols: m.columns()})
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		if w := m.scale(); w != 1 {
			out.ScaleVec(w, out)
		}
		return out, nil
	})
}

// combine adds the outputs and divides by divisor.
func combine(outputs []mat.Vector, rows int, divisor float64) *mat.VecDense {
	if rows == 0 {
		return &mat.VecDense{}
	}
	sum := mat.NewVecDense(rows, nil)
	for _, out := range outputs {
		sum.AddVec(sum, out)
	}
	if divisor != 1 {
		sum.ScaleVec(1/divisor, sum)
	}
	return sum
}
