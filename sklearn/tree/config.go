package tree

import (
	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// Splitter selects how a split threshold is chosen for a candidate feature.
type Splitter string

const (
	// SplitterBest scans every distinct threshold.
	SplitterBest Splitter = "best"
	// SplitterRandom draws one uniform threshold between the feature's bounds.
	SplitterRandom Splitter = "random"
)

// Config holds the splitting and pruning parameters of a regression tree.
// Zero values of MinSamplesSplit, MinSamplesLeaf and Splitter mean their defaults.
type Config struct {
	Splitter Splitter `json:"splitter,omitempty" yaml:"splitter" validate:"omitempty,oneof=best random"`

	// MinSamplesSplit is the smallest node that may be split.
	MinSamplesSplit int `json:"min_samples_split,omitempty" yaml:"min_samples_split" validate:"omitempty,gte=2"`

	// MinSamplesLeaf is the smallest allowed child.
	MinSamplesLeaf int `json:"min_samples_leaf,omitempty" yaml:"min_samples_leaf" validate:"omitempty,gte=1"`

	// MinWeightFractionLeaf is the smallest allowed child as a fraction of the fit samples.
	MinWeightFractionLeaf float64 `json:"min_weight_fraction_leaf,omitempty" yaml:"min_weight_fraction_leaf" validate:"gte=0,lte=0.5"`

	// MaxFeatures is the number of features examined per split, 0 for all.
	MaxFeatures int `json:"max_features,omitempty" yaml:"max_features" validate:"gte=0"`

	// RandomState, when set, seeds the tree's own generator and overrides any injected one.
	RandomState *uint64 `json:"random_state,omitempty" yaml:"random_state"`

	// MaxLeafNodes switches to best-first growth capped at this many leaves, 0 for unlimited.
	MaxLeafNodes int `json:"max_leaf_nodes,omitempty" yaml:"max_leaf_nodes" validate:"omitempty,gte=2"`

	// MinImpurityDecrease is the smallest weighted impurity decrease a split must achieve.
	MinImpurityDecrease float64 `json:"min_impurity_decrease,omitempty" yaml:"min_impurity_decrease" validate:"gte=0"`

	// CCPAlpha is the complexity parameter of minimal cost-complexity pruning.
	CCPAlpha float64 `json:"ccp_alpha,omitempty" yaml:"ccp_alpha" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Splitter:        SplitterBest,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// Normalized replaces zero values with their defaults.
func (c Config) Normalized() Config {
	if c.Splitter == "" {
		c.Splitter = SplitterBest
	}
	if c.MinSamplesSplit == 0 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf == 0 {
		c.MinSamplesLeaf = 1
	}
	return c
}

// Validate checks the normalized configuration.
func (c Config) Validate() error {
	c = c.Normalized()
	switch {
	case c.Splitter != SplitterBest && c.Splitter != SplitterRandom:
		return errors.NewValidationError("splitter", "must be 'best' or 'random'", c.Splitter)
	case c.MinSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be at least 2", c.MinSamplesSplit)
	case c.MinSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", c.MinSamplesLeaf)
	case c.MinWeightFractionLeaf < 0 || c.MinWeightFractionLeaf > 0.5:
		return errors.NewValidationError("min_weight_fraction_leaf", "must be in [0, 0.5]", c.MinWeightFractionLeaf)
	case c.MaxFeatures < 0:
		return errors.NewValidationError("max_features", "must be non-negative", c.MaxFeatures)
	case c.MaxLeafNodes < 0 || c.MaxLeafNodes == 1:
		return errors.NewValidationError("max_leaf_nodes", "must be 0 or at least 2", c.MaxLeafNodes)
	case c.MinImpurityDecrease < 0:
		return errors.NewValidationError("min_impurity_decrease", "must be non-negative", c.MinImpurityDecrease)
	case c.CCPAlpha < 0:
		return errors.NewValidationError("ccp_alpha", "must be non-negative", c.CCPAlpha)
	}
	return nil
}

// Params returns the configuration as snake_case key/value pairs.
func (c Config) Params() map[string]interface{} {
	c = c.Normalized()
	params := map[string]interface{}{
		"splitter":                 string(c.Splitter),
		"min_samples_split":        c.MinSamplesSplit,
		"min_samples_leaf":         c.MinSamplesLeaf,
		"min_weight_fraction_leaf": c.MinWeightFractionLeaf,
		"max_features":             c.MaxFeatures,
		"max_leaf_nodes":           c.MaxLeafNodes,
		"min_impurity_decrease":    c.MinImpurityDecrease,
		"ccp_alpha":                c.CCPAlpha,
	}
	if c.RandomState != nil {
		params["random_state"] = *c.RandomState
	}
	return params
}
