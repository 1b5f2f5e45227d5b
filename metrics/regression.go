// Package metrics provides regression metrics and the loss trajectory of an ensemble.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

func checkPair(op string, yTrue, yPred mat.Vector) (n int, err error) {
	n = yTrue.Len()
	if n == 0 {
		return 0, errors.Wrapf(errors.ErrEmptyData, "%s", op)
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func residuals(yTrue, yPred mat.Vector) []float64 {
	r := make([]float64, yTrue.Len())
	for i := range r {
		r[i] = yTrue.AtVec(i) - yPred.AtVec(i)
	}
	return r
}

// MSE is the mean squared error (1/n) Σ(yTrue - yPred)².
func MSE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	r := residuals(yTrue, yPred)
	return floats.Dot(r, r) / float64(n), nil
}

// RMSE is the square root of MSE.
func RMSE(yTrue, yPred mat.Vector) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Norm(residuals(yTrue, yPred), 1) / float64(n), nil
}

// R2Score is the coefficient of determination. A constant yTrue scores 1 when
// predicted exactly and 0 otherwise.
func R2Score(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	y := make([]float64, n)
	for i := range y {
		y[i] = yTrue.AtVec(i)
	}
	r := residuals(yTrue, yPred)
	ssRes := floats.Dot(r, r)

	mean := stat.Mean(y, nil)
	var ssTot float64
	for _, v := range y {
		ssTot += (v - mean) * (v - mean)
	}

	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}
