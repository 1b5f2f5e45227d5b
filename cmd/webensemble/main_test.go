package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("a,b,y\n")
	for i := 0; i < n; i++ {
		a, c := float64(i%9), float64(i%4)
		fmt.Fprintf(&b, "%g,%g,%g\n", a, c, a-2*c)
	}
	path := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestFitPredict(t *testing.T) {
	for _, kind := range []string{"random_forest", "gradient_boosting"} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			train := writeCSV(t, dir, 40)
			model := filepath.Join(dir, "model.bin")
			plot := filepath.Join(dir, "loss.png")

			out, err := run(t, "fit", "--kind", kind, "--train", train, "--target", "y",
				"--n-estimators", "6", "--max-depth", "3", "--seed", "9", "--out", model, "--plot", plot)
			require.NoError(t, err)
			assert.Contains(t, out, "6 members")
			assert.Contains(t, out, "RMSE")
			assert.FileExists(t, model)
			assert.FileExists(t, plot)

			out, err = run(t, "predict", "--model", model, "--data", train, "--target", "y")
			require.NoError(t, err)
			assert.Len(t, strings.Fields(out), 40)
		})
	}
}

func TestFit_Errors(t *testing.T) {
	dir := t.TempDir()
	train := writeCSV(t, dir, 10)

	_, err := run(t, "fit", "--kind", "svm", "--train", train, "--target", "y")
	assert.Error(t, err)

	_, err = run(t, "fit", "--train", train, "--target", "missing")
	assert.Error(t, err)

	_, err = run(t, "fit", "--train", train)
	assert.Error(t, err, "target is required")

	_, err = run(t, "predict", "--model", filepath.Join(dir, "none.bin"), "--data", train)
	assert.Error(t, err)
}
