package ensemble

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/metrics"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/sklearn/tree"
)

func makeRegression(seed uint64, n, p int) (*mat.Dense, *mat.VecDense) {
	rng := rand.New(rand.NewPCG(seed, 99))
	X := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		var target float64
		for j := 0; j < p; j++ {
			v := rng.NormFloat64()
			X.Set(i, j, v)
			if j < 5 {
				target += float64(j+1) * v
			}
		}
		y.SetVec(i, target+0.5*rng.NormFloat64())
	}
	return X, y
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5eed))
}

func newEnsembles(n int, opts ...Option) []Ensemble {
	return []Ensemble{
		NewRandomForestMSE(n, opts...),
		NewGradientBoostingMSE(n, opts...),
	}
}

func TestEnsemble_MemberCount(t *testing.T) {
	X, y := makeRegression(1, 120, 6)

	for _, n := range []int{1, 3, 7} {
		for _, e := range newEnsembles(n, WithMaxDepth(3)) {
			t.Run(e.Name(), func(t *testing.T) {
				loss, err := e.Fit(seeded(1), X, y)
				require.NoError(t, err)
				assert.Equal(t, n, e.NMembers())
				assert.Len(t, loss.Train, n)
				assert.Nil(t, loss.Validation)
				assert.True(t, e.IsFitted())
			})
		}
	}
}

func TestEnsemble_PredictBeforeFit(t *testing.T) {
	X, _ := makeRegression(2, 10, 3)

	for _, e := range newEnsembles(3) {
		_, err := e.Predict(X)
		var notFitted *errors.NotFittedError
		require.True(t, errors.As(err, &notFitted), "%s: %v", e.Name(), err)
		assert.Equal(t, e.Name(), notFitted.ModelName)
	}
}

func TestEnsemble_ValidationUnsupported(t *testing.T) {
	X, y := makeRegression(3, 50, 4)
	Xv, yv := makeRegression(4, 20, 4)

	for _, e := range newEnsembles(3) {
		_, err := e.Fit(seeded(1), X, y)
		require.NoError(t, err)

		_, err = e.Fit(seeded(1), X, y, WithValidation(Xv, yv))
		var unsupported *errors.UnsupportedFeatureError
		require.True(t, errors.As(err, &unsupported), "%s: %v", e.Name(), err)
		assert.True(t, errors.Is(err, errors.ErrNotImplemented))
		assert.False(t, e.IsFitted(), "a failed fit leaves the model unfitted")
		assert.Zero(t, e.NMembers())
	}
}

func TestEnsemble_LossFiniteNonNegative(t *testing.T) {
	X, y := makeRegression(5, 200, 8)

	for _, e := range newEnsembles(10, WithMaxDepth(4)) {
		loss, err := e.Fit(seeded(5), X, y)
		require.NoError(t, err)
		for k, v := range loss.Train {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s loss[%d]", e.Name(), k)
			assert.GreaterOrEqual(t, v, 0.0)
		}

		pred, err := e.Predict(X)
		require.NoError(t, err)
		final, err := metrics.MSE(y, pred)
		require.NoError(t, err)
		assert.InDelta(t, final, loss.Train[len(loss.Train)-1], 1e-9, e.Name())
	}
}

func TestEnsemble_PredictShape(t *testing.T) {
	X, y := makeRegression(6, 100, 5)
	Xt, _ := makeRegression(7, 37, 5)

	for _, e := range newEnsembles(4) {
		_, err := e.Fit(seeded(6), X, y)
		require.NoError(t, err)

		pred, err := e.Predict(Xt)
		require.NoError(t, err)
		assert.Equal(t, 37, pred.Len())

		_, err = e.Predict(mat.NewDense(3, 4, nil))
		var dimErr *errors.DimensionError
		assert.True(t, errors.As(err, &dimErr), e.Name())
	}
}

func TestGradientBoosting_ZeroLearningRate(t *testing.T) {
	X, y := makeRegression(8, 80, 5)
	gb := NewGradientBoostingMSE(5, WithLearningRate(0))

	_, err := gb.Fit(seeded(8), X, y)
	require.NoError(t, err)

	pred, err := gb.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pred, mat.NewVecDense(80, nil)))
	for _, m := range gb.Members() {
		assert.Zero(t, m.Weight)
	}
}

func TestGradientBoosting_LossNonIncreasing(t *testing.T) {
	X, y := makeRegression(9, 400, 10)

	for seed := uint64(1); seed <= 5; seed++ {
		gb := NewGradientBoostingMSE(10, WithLearningRate(1), WithMaxDepth(5))
		loss, err := gb.Fit(seeded(seed), X, y)
		require.NoError(t, err)

		for k := 1; k < len(loss.Train); k++ {
			assert.LessOrEqual(t, loss.Train[k], loss.Train[k-1]+1e-9, "seed %d step %d", seed, k)
		}
		assert.Less(t, loss.Train[len(loss.Train)-1], loss.Train[0])
	}
}

func TestEnsemble_Deterministic(t *testing.T) {
	X, y := makeRegression(10, 150, 12)

	for _, kind := range []Kind{KindRandomForest, KindGradientBoosting} {
		t.Run(string(kind), func(t *testing.T) {
			fit := func(seed uint64) Ensemble {
				e, err := New(kind, kind.DefaultParams(6), WithWorkers(3))
				require.NoError(t, err)
				_, err = e.Fit(seeded(seed), X, y)
				require.NoError(t, err)
				return e
			}
			a, b, c := fit(42), fit(42), fit(43)

			pa, err := a.Predict(X)
			require.NoError(t, err)
			pb, err := b.Predict(X)
			require.NoError(t, err)
			pc, err := c.Predict(X)
			require.NoError(t, err)

			assert.True(t, mat.Equal(pa, pb), "same seed must reproduce predictions")
			assert.False(t, mat.Equal(pa, pc), "different seeds should differ")

			assert.Equal(t, memberFeatures(a), memberFeatures(b))
			assert.Equal(t, memberNodes(a), memberNodes(b))
		})
	}
}

func memberFeatures(e Ensemble) [][]int {
	var out [][]int
	switch v := e.(type) {
	case *RandomForestMSE:
		for _, m := range v.Members() {
			out = append(out, m.Features)
		}
	case *GradientBoostingMSE:
		for _, m := range v.Members() {
			out = append(out, m.Features)
		}
	}
	return out
}

func memberNodes(e Ensemble) [][]tree.Node {
	var out [][]tree.Node
	switch v := e.(type) {
	case *RandomForestMSE:
		for _, m := range v.Members() {
			out = append(out, m.Tree.Nodes())
		}
	case *GradientBoostingMSE:
		for _, m := range v.Members() {
			out = append(out, m.Tree.Nodes())
		}
	}
	return out
}

func TestRandomForest_FeatureSubsets(t *testing.T) {
	X, y := makeRegression(11, 60, 9)
	rf := NewRandomForestMSE(5, WithFeatureSubsampleSize(0.5))

	_, err := rf.Fit(seeded(11), X, y)
	require.NoError(t, err)

	for _, m := range rf.Members() {
		require.Len(t, m.Features, 5) // round(4.5)
		for i := 1; i < len(m.Features); i++ {
			assert.Less(t, m.Features[i-1], m.Features[i], "features must be sorted and distinct")
		}
	}

	defaults := NewRandomForestMSE(2)
	_, err = defaults.Fit(seeded(11), X, y)
	require.NoError(t, err)
	assert.Len(t, defaults.Members()[0].Features, 3) // a third of 9
}

func TestEnsemble_SubsampleClampWarns(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	X, y := makeRegression(12, 40, 10)
	gb := NewGradientBoostingMSE(2, WithFeatureSubsampleSize(0.01))
	_, err := gb.Fit(seeded(12), X, y)
	require.NoError(t, err)

	for _, m := range gb.Members() {
		assert.Len(t, m.Features, 1)
	}
	require.NotEmpty(t, warnings)
	var sw *errors.SubsampleWarning
	require.True(t, errors.As(warnings[0], &sw))
	assert.Equal(t, 1, sw.Used)
}

func TestEnsemble_NilRandUsesEntropy(t *testing.T) {
	X, y := makeRegression(13, 50, 4)
	rf := NewRandomForestMSE(3)

	_, err := rf.Fit(nil, X, y)
	require.NoError(t, err)
	assert.Equal(t, 3, rf.NMembers())
}

func TestEnsemble_InputErrors(t *testing.T) {
	X, _ := makeRegression(14, 30, 3)

	for _, e := range newEnsembles(2) {
		_, err := e.Fit(seeded(1), X, mat.NewVecDense(29, nil))
		var dimErr *errors.DimensionError
		assert.True(t, errors.As(err, &dimErr), e.Name())
	}

	bad := NewRandomForestMSE(0)
	_, err := bad.Fit(seeded(1), X, mat.NewVecDense(30, nil))
	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestNew(t *testing.T) {
	e, err := New(KindGradientBoosting, DefaultGradientBoostingParams(4))
	require.NoError(t, err)
	assert.Equal(t, KindGradientBoosting, e.Kind())
	assert.Equal(t, 0.1, e.Params().LearningRate)
	assert.Equal(t, 5, e.GetParams()["max_depth"])

	_, err = New(KindRandomForest, Params{NEstimators: 3, FeatureSubsampleSize: 1.5})
	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))

	_, err = New("extra_trees", DefaultRandomForestParams(3))
	assert.True(t, errors.As(err, &validationErr))

	kind, err := ParseKind("random_forest")
	require.NoError(t, err)
	assert.Equal(t, KindRandomForest, kind)
}

func TestLineSearch(t *testing.T) {
	y := []float64{2, 4, 6}
	pred := []float64{0, 0, 0}
	raw := []float64{1, 2, 3}
	assert.InDelta(t, 2.0, lineSearch(y, pred, raw), 1e-12)

	// pointing away from the target clips to zero
	assert.Equal(t, 0.0, lineSearch(y, pred, []float64{-1, -2, -3}))
	// a zero direction gives no step
	assert.Equal(t, 0.0, lineSearch(y, pred, []float64{0, 0, 0}))
}

func TestEnsemble_MarshalBinary(t *testing.T) {
	X, y := makeRegression(15, 100, 6)

	for _, e := range newEnsembles(4, WithMaxDepth(3)) {
		t.Run(e.Name(), func(t *testing.T) {
			_, err := e.Fit(seeded(15), X, y)
			require.NoError(t, err)
			want, err := e.Predict(X)
			require.NoError(t, err)

			blob, err := e.MarshalBinary()
			require.NoError(t, err)

			restored, err := Load(blob)
			require.NoError(t, err)
			assert.Equal(t, e.Kind(), restored.Kind())
			assert.Equal(t, e.Params(), restored.Params())

			got, err := restored.Predict(X)
			require.NoError(t, err)
			assert.True(t, mat.Equal(want, got))

			path := filepath.Join(t.TempDir(), "model.gob")
			require.NoError(t, Save(e, path))
			fromFile, err := LoadFile(path)
			require.NoError(t, err)
			got, err = fromFile.Predict(X)
			require.NoError(t, err)
			assert.True(t, mat.Equal(want, got))
		})
	}
}

func TestEnsemble_UnmarshalOtherKind(t *testing.T) {
	X, y := makeRegression(16, 40, 3)
	rf := NewRandomForestMSE(2)
	_, err := rf.Fit(seeded(16), X, y)
	require.NoError(t, err)
	blob, err := rf.MarshalBinary()
	require.NoError(t, err)

	gb := NewGradientBoostingMSE(2)
	err = gb.UnmarshalBinary(blob)
	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.False(t, gb.IsFitted())

	var restored RandomForestMSE
	require.NoError(t, restored.UnmarshalBinary(blob))
	assert.Equal(t, 2, restored.NMembers())

	unfitted, err := NewGradientBoostingMSE(3).MarshalBinary()
	require.NoError(t, err)
	e, err := Load(unfitted)
	require.NoError(t, err)
	assert.False(t, e.IsFitted())
}

func TestEnsemble_Logging(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	X, y := makeRegression(17, 60, 4)

	rf := NewRandomForestMSE(3, WithLogger(logger))
	_, err := rf.Fit(seeded(17), X, y)
	require.NoError(t, err)

	assert.True(t, logger.ContainsMessage("fit finished"))
	assert.True(t, logger.ContainsField(log.ModelNameKey, "RandomForestMSE"))
	assert.True(t, logger.ContainsField(log.MembersKey, 3.0))

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	debug := 0
	for _, e := range entries {
		if e["message"] == "member fitted" {
			debug++
		}
	}
	assert.Equal(t, 3, debug)
}

func TestEndToEnd_LargeForest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10000x100 fit in short mode")
	}
	X, y := makeRegression(18, 11000, 100)
	train := X.Slice(0, 10000, 0, 100)
	test := X.Slice(10000, 11000, 0, 100)
	yTrain := y.SliceVec(0, 10000)

	rf := NewRandomForestMSE(10, WithMaxDepth(0), WithFeatureSubsampleSize(0))
	_, err := rf.Fit(seeded(18), train, yTrain)
	require.NoError(t, err)
	assert.Equal(t, 10, rf.NMembers())

	pred, err := rf.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, 1000, pred.Len())

	gb := NewGradientBoostingMSE(10, WithLearningRate(1), WithMaxDepth(5))
	loss, err := gb.Fit(seeded(18), train, yTrain)
	require.NoError(t, err)
	assert.Less(t, loss.Train[9], loss.Train[0])
}
