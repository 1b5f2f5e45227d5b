// Package tree implements the CART regression tree used as the member learner
// of the ensembles in sklearn/ensemble.
package tree

import (
	"bytes"
	"encoding/gob"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/core/model"
	"github.com/revit3d/WebEnsemble/pkg/errors"
)

var _ model.Regressor = (*DecisionTreeRegressor)(nil)

// DecisionTreeRegressor is a squared-error regression tree.
type DecisionTreeRegressor struct {
	state    *model.StateManager
	cfg      Config
	maxDepth int
	rng      *rand.Rand
	nodes    []Node
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(t *DecisionTreeRegressor) { t.cfg = cfg.Normalized() }
}

// WithMaxDepth limits the depth of the tree, 0 for unlimited.
func WithMaxDepth(depth int) Option {
	return func(t *DecisionTreeRegressor) { t.maxDepth = depth }
}

// WithRand injects the generator used for feature sampling and random thresholds.
func WithRand(rng *rand.Rand) Option {
	return func(t *DecisionTreeRegressor) { t.rng = rng }
}

// WithSplitter sets the split strategy.
func WithSplitter(s Splitter) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.Splitter = s }
}

// WithMinSamplesSplit sets the smallest node that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the smallest allowed leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.MinSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features examined per split.
func WithMaxFeatures(n int) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.MaxFeatures = n }
}

// WithMaxLeafNodes caps the number of leaves.
func WithMaxLeafNodes(n int) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.MaxLeafNodes = n }
}

// WithCCPAlpha sets the cost-complexity pruning strength.
func WithCCPAlpha(alpha float64) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.CCPAlpha = alpha }
}

// WithRandomState fixes the tree's seed.
func WithRandomState(seed uint64) Option {
	return func(t *DecisionTreeRegressor) { t.cfg.RandomState = &seed }
}

// NewDecisionTreeRegressor creates an unfitted tree. Without options it is
// equivalent to NewDecisionTreeRegressor(WithConfig(DefaultConfig())).
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	t := &DecisionTreeRegressor{
		state: model.NewStateManager(),
		cfg:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements model.Named.
func (t *DecisionTreeRegressor) Name() string { return "DecisionTreeRegressor" }

// Fit grows the tree on X and y, replacing any previous fit.
func (t *DecisionTreeRegressor) Fit(X mat.Matrix, y mat.Vector) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")

	t.state.Reset()
	t.nodes = nil

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.Wrap(errors.ErrEmptyData, "DecisionTreeRegressor.Fit")
	}
	if y.Len() != rows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, y.Len(), 0)
	}

	cfg := t.cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if t.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be non-negative", t.maxDepth)
	}

	columns := make([][]float64, cols)
	for j := range columns {
		columns[j] = mat.Col(nil, j, X)
	}
	target := make([]float64, rows)
	for i := range target {
		target[i] = y.AtVec(i)
	}

	nodes := newBuilder(columns, target, cfg, t.maxDepth, t.generator(cfg)).build()
	t.nodes = prune(nodes, cfg.CCPAlpha)
	t.state.SetFitted(cols, rows)
	return nil
}

func (t *DecisionTreeRegressor) generator(cfg Config) *rand.Rand {
	switch {
	case cfg.RandomState != nil:
		return rand.New(rand.NewPCG(*cfg.RandomState, 0))
	case t.rng != nil:
		return t.rng
	default:
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// Predict returns the leaf value reached by each row of X.
func (t *DecisionTreeRegressor) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := t.state.RequireFitted(t.Name(), "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := t.state.CheckFeatures("DecisionTreeRegressor.Predict", cols); err != nil {
		return nil, err
	}

	if rows == 0 {
		return &mat.VecDense{}, nil
	}
	out := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		out.SetVec(i, t.nodes[t.leaf(X, i)].Value)
	}
	return out, nil
}

func (t *DecisionTreeRegressor) leaf(X mat.Matrix, row int) int {
	i := 0
	for !t.nodes[i].IsLeaf() {
		nd := t.nodes[i]
		if X.At(row, nd.Feature) <= nd.Threshold {
			i = nd.Left
		} else {
			i = nd.Right
		}
	}
	return i
}

// IsFitted reports whether Fit has succeeded.
func (t *DecisionTreeRegressor) IsFitted() bool {
	return t.state.IsFitted()
}

// Nodes returns a copy of the fitted nodes, root first.
func (t *DecisionTreeRegressor) Nodes() []Node {
	return append([]Node(nil), t.nodes...)
}

// NLeaves returns the number of leaves.
func (t *DecisionTreeRegressor) NLeaves() int {
	n := 0
	for _, nd := range t.nodes {
		if nd.IsLeaf() {
			n++
		}
	}
	return n
}

// Depth returns the length of the longest root-to-leaf path.
func (t *DecisionTreeRegressor) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	depth := make([]int, len(t.nodes))
	deepest := 0
	for i, nd := range t.nodes {
		if nd.IsLeaf() {
			deepest = max(deepest, depth[i])
			continue
		}
		depth[nd.Left] = depth[i] + 1
		depth[nd.Right] = depth[i] + 1
	}
	return deepest
}

// FeatureImportances returns the normalized total impurity decrease per feature.
func (t *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if err := t.state.RequireFitted(t.Name(), "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := t.state.GetDimensions()
	imp := make([]float64, nFeatures)
	var total float64
	for _, nd := range t.nodes {
		if nd.IsLeaf() {
			continue
		}
		l, r := t.nodes[nd.Left], t.nodes[nd.Right]
		d := float64(nd.Samples)*nd.Impurity - float64(l.Samples)*l.Impurity - float64(r.Samples)*r.Impurity
		imp[nd.Feature] += d
		total += d
	}
	if total > 0 {
		for i := range imp {
			imp[i] /= total
		}
	}
	return imp, nil
}

// GetParams implements model.ParameterGetter.
func (t *DecisionTreeRegressor) GetParams() map[string]interface{} {
	params := t.cfg.Params()
	params["max_depth"] = t.maxDepth
	return params
}

type treeSnapshot struct {
	Config   Config
	MaxDepth int
	Nodes    []Node
	State    model.ModelState
}

// GobEncode stores the configuration and the fitted nodes. The injected
// generator is not stored.
func (t *DecisionTreeRegressor) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(treeSnapshot{
		Config:   t.cfg,
		MaxDepth: t.maxDepth,
		Nodes:    t.nodes,
		State:    t.state.GetState(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode DecisionTreeRegressor")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a tree written by GobEncode.
func (t *DecisionTreeRegressor) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode DecisionTreeRegressor")
	}
	if snap.State.Fitted && len(snap.Nodes) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.GobDecode", "fitted tree without nodes", nil)
	}
	t.cfg = snap.Config
	t.maxDepth = snap.MaxDepth
	t.nodes = snap.Nodes
	if t.state == nil {
		t.state = model.NewStateManager()
	}
	t.state.SetState(snap.State)
	return nil
}
