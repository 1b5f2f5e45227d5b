// Package model defines the interfaces and shared state of WebEnsemble estimators.
package model

import "gonum.org/v1/gonum/mat"

// Fitter trains on a design matrix and a target vector.
type Fitter interface {
	Fit(X mat.Matrix, y mat.Vector) error
}

// Predictor returns one prediction per row of X.
type Predictor interface {
	Predict(X mat.Matrix) (*mat.VecDense, error)
}

// Regressor is a single fittable regression model, e.g. one tree.
type Regressor interface {
	Fitter
	Predictor
}
