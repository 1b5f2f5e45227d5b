/*
Package ensemble provides tree ensembles for regression with squared error.

RandomForestMSE fits its trees independently and in parallel, each on a
bootstrap sample of the rows and a random subset of the columns, and predicts
the mean of the members. GradientBoostingMSE fits its trees one after another
on the residual of the running prediction; each member is weighted by the
learning rate times an exact line-search step, and the prediction is the
weighted sum of the members.

Randomness is injected: Fit takes a *rand.Rand and draws every subsample from
it before any work is fanned out, so two fits with equally seeded generators
produce identical members.

Example:

	rf := ensemble.NewRandomForestMSE(100, ensemble.WithMaxDepth(8))
	loss, err := rf.Fit(rand.New(rand.NewPCG(1, 2)), X, y)
	if err != nil {
		return err
	}
	fmt.Println("final train MSE:", loss.Train[len(loss.Train)-1])
	pred, err := rf.Predict(XTest)

Both ensembles serialize to an opaque blob with MarshalBinary; Load restores
either kind.
*/
package ensemble
