package main

import (
	"bufio"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/revit3d/WebEnsemble/dataset"
	"github.com/revit3d/WebEnsemble/sklearn/ensemble"
)

func newPredictCmd() *cobra.Command {
	var modelPath, dataPath, target string

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Print predictions of a saved model, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := ensemble.LoadFile(modelPath)
			if err != nil {
				return err
			}
			frame, err := dataset.ReadCSVFile(dataPath, target, dataset.OptionalTarget())
			if err != nil {
				return err
			}
			pred, err := model.Predict(frame.X)
			if err != nil {
				return err
			}

			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, v := range pred.RawVector().Data {
				w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
				w.WriteByte('\n')
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "model.bin", "saved model file")
	cmd.Flags().StringVar(&dataPath, "data", "", "CSV to score; columns in training order")
	cmd.Flags().StringVar(&target, "target", "", "target column to drop when present")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
