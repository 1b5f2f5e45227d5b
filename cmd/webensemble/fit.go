package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/revit3d/WebEnsemble/dataset"
	"github.com/revit3d/WebEnsemble/metrics"
	"github.com/revit3d/WebEnsemble/sklearn/ensemble"
	"github.com/revit3d/WebEnsemble/visualization"
)

type fitFlags struct {
	kind        string
	train       string
	target      string
	nEstimators int
	maxDepth    int
	fraction    float64
	lr          float64
	workers     int
	out         string
	plot        string
	seed        uint64
}

func newFitCmd() *cobra.Command {
	var f fitFlags

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit an ensemble on a CSV file and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := ensemble.ParseKind(f.kind)
			if err != nil {
				return err
			}
			params := kind.DefaultParams(f.nEstimators)
			flags := cmd.Flags()
			if flags.Changed("max-depth") {
				params.MaxDepth = f.maxDepth
			}
			if flags.Changed("feature-subsample-size") {
				params.FeatureSubsampleSize = f.fraction
			}
			if flags.Changed("learning-rate") {
				params.LearningRate = f.lr
			}
			params.Workers = f.workers
			return runFit(cmd, kind, params, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.kind, "kind", string(ensemble.KindRandomForest), "random_forest or gradient_boosting")
	fl.StringVar(&f.train, "train", "", "training CSV")
	fl.StringVar(&f.target, "target", "", "target column")
	fl.IntVar(&f.nEstimators, "n-estimators", 100, "number of members")
	fl.IntVar(&f.maxDepth, "max-depth", 0, "member depth limit, 0 for unlimited")
	fl.Float64Var(&f.fraction, "feature-subsample-size", ensemble.DefaultFeatureSubsampleSize, "fraction of columns per member")
	fl.Float64Var(&f.lr, "learning-rate", 0.1, "boosting learning rate")
	fl.IntVar(&f.workers, "workers", 0, "goroutines per fit, 0 for one per CPU")
	fl.StringVar(&f.out, "out", "model.bin", "output model file")
	fl.StringVar(&f.plot, "plot", "", "write the loss curve to this image (.png, .svg, .pdf)")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed, 0 for entropy")
	_ = cmd.MarkFlagRequired("train")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runFit(cmd *cobra.Command, kind ensemble.Kind, params ensemble.Params, f fitFlags) error {
	frame, err := dataset.ReadCSVFile(f.train, f.target)
	if err != nil {
		return err
	}
	model, err := ensemble.New(kind, params)
	if err != nil {
		return err
	}

	var rng *rand.Rand
	if f.seed != 0 {
		rng = rand.New(rand.NewPCG(f.seed, 0))
	}
	loss, err := model.Fit(rng, frame.X, frame.Y)
	if err != nil {
		return err
	}
	if err := ensemble.Save(model, f.out); err != nil {
		return err
	}
	if f.plot != "" {
		if err := visualization.SaveLossPlot(f.plot, model.Name(), visualization.Curve{Name: "train", Values: loss.Train}); err != nil {
			return err
		}
	}

	pred, err := model.Predict(frame.X)
	if err != nil {
		return err
	}
	rmse, err := metrics.RMSE(frame.Y, pred)
	if err != nil {
		return err
	}
	mae, err := metrics.MAE(frame.Y, pred)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d members, train MSE %.6g (RMSE %.6g, MAE %.6g), saved to %s\n",
		model.Name(), model.NMembers(), loss.Train[len(loss.Train)-1], rmse, mae, f.out)
	return nil
}
