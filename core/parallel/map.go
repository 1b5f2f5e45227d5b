package parallel

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// Map applies fn to every item with at most workers goroutines and returns
// the results in input order, independent of completion order.
//
// When fn fails, Map waits for the jobs already started and returns the first
// error with no results. A panic in fn is recovered as an *errors.PanicError.
func Map[T, R any](items []T, workers int, fn func(i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(Workers(workers))

	for i, item := range items {
		g.Go(func() error {
			return errors.SafeExecute(fmt.Sprintf("parallel.Map[%d]", i), func() error {
				r, err := fn(i, item)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
