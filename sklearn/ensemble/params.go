package ensemble

import (
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/sklearn/tree"
)

// DefaultFeatureSubsampleSize is the column fraction used when none is set.
const DefaultFeatureSubsampleSize = 1.0 / 3.0

// Params are the hyperparameters of either ensemble.
type Params struct {
	// NEstimators is the number of members.
	NEstimators int `json:"n_estimators" yaml:"n_estimators" validate:"gte=1"`

	// MaxDepth limits every member, 0 for unlimited.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"gte=0"`

	// FeatureSubsampleSize is the fraction of columns each member sees, 0 for the default.
	FeatureSubsampleSize float64 `json:"feature_subsample_size" yaml:"feature_subsample_size" validate:"gte=0,lte=1"`

	// LearningRate scales every boosting step. Ignored by the forest.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate" validate:"gte=0"`

	// Tree is forwarded to every member.
	Tree tree.Config `json:"tree_params" yaml:"tree_params"`

	// Workers bounds the goroutines used for members, <= 0 for one per CPU.
	Workers int `json:"workers,omitempty" yaml:"workers"`
}

// DefaultRandomForestParams returns forest defaults: unlimited depth and a third of the columns.
func DefaultRandomForestParams(nEstimators int) Params {
	return Params{
		NEstimators:          nEstimators,
		FeatureSubsampleSize: DefaultFeatureSubsampleSize,
		Tree:                 tree.DefaultConfig(),
	}
}

// DefaultGradientBoostingParams returns boosting defaults: depth 5, learning rate 0.1
// and a third of the columns.
func DefaultGradientBoostingParams(nEstimators int) Params {
	return Params{
		NEstimators:          nEstimators,
		MaxDepth:             5,
		FeatureSubsampleSize: DefaultFeatureSubsampleSize,
		LearningRate:         0.1,
		Tree:                 tree.DefaultConfig(),
	}
}

// Validate checks the hyperparameters and the tree configuration.
func (p Params) Validate() error {
	switch {
	case p.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", p.NEstimators)
	case p.MaxDepth < 0:
		return errors.NewValidationError("max_depth", "must be non-negative, 0 for unlimited", p.MaxDepth)
	case p.FeatureSubsampleSize < 0 || p.FeatureSubsampleSize > 1:
		return errors.NewValidationError("feature_subsample_size", "must be in (0, 1]", p.FeatureSubsampleSize)
	case p.LearningRate < 0:
		return errors.NewValidationError("learning_rate", "must be non-negative", p.LearningRate)
	}
	return p.Tree.Validate()
}

func (p Params) featureFraction() float64 {
	if p.FeatureSubsampleSize == 0 {
		return DefaultFeatureSubsampleSize
	}
	return p.FeatureSubsampleSize
}

// GetParams returns the hyperparameters keyed by snake_case name.
func (p Params) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":           p.NEstimators,
		"max_depth":              p.MaxDepth,
		"feature_subsample_size": p.featureFraction(),
		"learning_rate":          p.LearningRate,
		"tree_params":            p.Tree.Params(),
	}
}

// Option configures an ensemble at construction.
type Option func(*settings)

type settings struct {
	params Params
	logger log.Logger
}

// WithMaxDepth limits the depth of every member, 0 for unlimited.
func WithMaxDepth(depth int) Option {
	return func(s *settings) { s.params.MaxDepth = depth }
}

// WithFeatureSubsampleSize sets the fraction of columns each member sees.
func WithFeatureSubsampleSize(fraction float64) Option {
	return func(s *settings) { s.params.FeatureSubsampleSize = fraction }
}

// WithLearningRate sets the boosting learning rate.
func WithLearningRate(lr float64) Option {
	return func(s *settings) { s.params.LearningRate = lr }
}

// WithTreeConfig sets the configuration forwarded to every member.
func WithTreeConfig(cfg tree.Config) Option {
	return func(s *settings) { s.params.Tree = cfg }
}

// WithWorkers bounds the goroutines used for member fit and predict.
func WithWorkers(n int) Option {
	return func(s *settings) { s.params.Workers = n }
}

// WithLogger overrides the logger, which otherwise is log.GetLoggerWithName("ensemble")
// at the time of each call.
func WithLogger(l log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// withParams replaces every hyperparameter.
func withParams(p Params) Option {
	return func(s *settings) { s.params = p }
}
