// Package webensemble trains tree ensembles for regression and serves them
// over HTTP.
//
// Two ensembles are provided, both built on a CART regression tree and both
// minimising mean squared error:
//
//   - RandomForestMSE averages trees fitted on bootstrap samples and random
//     column subsets. Members are fitted in parallel.
//   - GradientBoostingMSE adds trees fitted to the residuals one at a time,
//     each scaled by an exact line search step and the learning rate.
//
// Fit returns the loss trajectory: entry k is the training MSE of the
// first k+1 members.
//
// # Quick Start
//
//	rng := rand.New(rand.NewPCG(42, 0))
//	forest := ensemble.NewRandomForestMSE(100, ensemble.WithMaxDepth(10))
//	loss, err := forest.Fit(rng, X, y)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := forest.Predict(XTest)
//
// The generator is always passed in. A nil generator is seeded from process
// entropy.
//
// # Packages
//
//   - sklearn/ensemble: RandomForestMSE, GradientBoostingMSE, persistence
//   - sklearn/tree: DecisionTreeRegressor and its Config
//   - metrics: MSE, RMSE, MAE, R², loss curves
//   - dataset: numeric CSV ingestion
//   - visualization: loss curve plots
//   - core/model: estimator interfaces, fitted state, gob persistence
//   - core/parallel: bounded order-preserving worker pool
//   - pkg/errors, pkg/log: error taxonomy and structured logging
//   - service/...: configuration, BadgerDB store, job runner, gin server
//   - cmd/webensemble: serve, fit and predict commands
package webensemble
