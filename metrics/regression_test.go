package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

func TestRegressionMetrics(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yPred []float64
		mse   float64
		mae   float64
		r2    float64
	}{
		{
			name:  "perfect prediction",
			yTrue: []float64{1, 2, 3, 4, 5},
			yPred: []float64{1, 2, 3, 4, 5},
			mse:   0,
			mae:   0,
			r2:    1,
		},
		{
			name:  "half off",
			yTrue: []float64{1, 2, 3, 4},
			yPred: []float64{1.5, 2.5, 2.5, 3.5},
			mse:   0.25,
			mae:   0.5,
			r2:    0.8, // 1 - 1.0/5.0
		},
		{
			name:  "larger errors",
			yTrue: []float64{10, 20, 30},
			yPred: []float64{12, 18, 33},
			mse:   17.0 / 3.0,
			mae:   7.0 / 3.0,
			r2:    1 - 17.0/200.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yTrue := mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			yPred := mat.NewVecDense(len(tt.yPred), tt.yPred)

			mse, err := MSE(yTrue, yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.mse, mse, 1e-10)

			rmse, err := RMSE(yTrue, yPred)
			require.NoError(t, err)
			assert.InDelta(t, math.Sqrt(tt.mse), rmse, 1e-10)

			mae, err := MAE(yTrue, yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.mae, mae, 1e-10)

			r2, err := R2Score(yTrue, yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.r2, r2, 1e-10)
		})
	}
}

func TestRegressionMetrics_Errors(t *testing.T) {
	a := mat.NewVecDense(3, []float64{1, 2, 3})
	b := mat.NewVecDense(2, []float64{1, 2})

	_, err := MSE(a, b)
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	_, err = MAE(&mat.VecDense{}, &mat.VecDense{})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestR2Score_ConstantTarget(t *testing.T) {
	y := mat.NewVecDense(3, []float64{2, 2, 2})

	r2, err := R2Score(y, y)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r2)

	r2, err = R2Score(y, mat.NewVecDense(3, []float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, r2)
}

func BenchmarkMSE(b *testing.B) {
	n := 10000
	yTrue := mat.NewVecDense(n, nil)
	yPred := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yTrue.SetVec(i, float64(i))
		yPred.SetVec(i, float64(i)+0.1)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = MSE(yTrue, yPred)
	}
}
