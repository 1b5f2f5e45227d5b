package errors

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "member failed",
			err:     fmt.Errorf("test error"),
			wantMsg: "webensemble: Fit: member failed: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			err:     nil,
			wantMsg: "webensemble: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 7, 1)

	assert.Equal(t, "webensemble: Predict: dimension mismatch on axis 1 (features). Expected 10, got 7", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 7, dimErr.Got)
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestMSE", "Predict")

	want := "webensemble: RandomForestMSE: this model is not fitted yet. Call Fit() before using Predict()"
	assert.Equal(t, want, err.Error())

	var notFittedErr *NotFittedError
	assert.True(t, As(err, &notFittedErr))
}

func TestNewUnsupportedFeatureError(t *testing.T) {
	err := NewUnsupportedFeatureError("GradientBoostingMSE", "validation loss")

	assert.Equal(t, "webensemble: GradientBoostingMSE: validation loss is not supported", err.Error())
	assert.True(t, Is(err, ErrNotImplemented))

	var unsupported *UnsupportedFeatureError
	require.True(t, As(err, &unsupported))
	assert.Equal(t, "validation loss", unsupported.Feature)
}

func TestNewDataError(t *testing.T) {
	tests := []struct {
		name   string
		row    int
		column string
		want   string
	}{
		{"cell", 3, "x1", `webensemble: bad data in train.csv at row 3, column "x1": not a number`},
		{"column", 0, "target", `webensemble: bad data in train.csv, column "target": not a number`},
		{"file", 0, "", "webensemble: bad data in train.csv: not a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDataError("train.csv", tt.row, tt.column, "not a number")
			assert.Equal(t, tt.want, err.Error())

			var dataErr *DataError
			assert.True(t, As(err, &dataErr))
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("n_estimators", "must be positive", 0)
	assert.Equal(t, "webensemble: validation failed for parameter 'n_estimators': must be positive (got: 0)", err.Error())
}

func TestMarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	logger.Warn().EmbedObject(NewSubsampleWarning("feature_subsample_size", 0.01, 1, 20)).Msg("clamped")
	logger.Error().EmbedObject(&UnsupportedFeatureError{ModelName: "RandomForestMSE", Feature: "validation loss"}).Msg("fit")

	out := buf.String()
	assert.Contains(t, out, `"type":"SubsampleWarning"`)
	assert.Contains(t, out, `"used":1`)
	assert.Contains(t, out, `"feature":"validation loss"`)
}

func TestWarn_PrefersZerologFunc(t *testing.T) {
	var handled, zeroHandled []error
	SetWarningHandler(func(w error) { handled = append(handled, w) })
	defer SetWarningHandler(nil)

	w := NewSubsampleWarning("feature_subsample_size", 0.01, 1, 20)
	Warn(w)
	require.Len(t, handled, 1)

	SetZerologWarnFunc(func(w error) { zeroHandled = append(zeroHandled, w) })
	defer SetZerologWarnFunc(nil)
	Warn(w)

	assert.Len(t, handled, 1)
	assert.Len(t, zeroHandled, 1)
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrNotImplemented, "in RandomForestMSE.Fit")

	assert.True(t, Is(wrapped, ErrNotImplemented))
	assert.True(t, strings.Contains(wrapped.Error(), "in RandomForestMSE.Fit"))
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	assert.True(t, Is(wrapped, ErrEmptyData))
	assert.Contains(t, wrapped.Error(), "in Predict: expected 10, got 5")
}

func TestCheckNumericalStability(t *testing.T) {
	assert.NoError(t, CheckNumericalStability("loss", []float64{1, 2, 3}, 0))

	err := CheckNumericalStability("loss", []float64{1, nan(), 3}, 4)
	var instability *NumericalInstabilityError
	require.True(t, As(err, &instability))
	assert.Equal(t, 4, instability.Iteration)
}

func TestSafeDivideAndClip(t *testing.T) {
	assert.Equal(t, 0.0, SafeDivide(1, 0))
	assert.Equal(t, 2.0, SafeDivide(4, 2))
	assert.Equal(t, 0.0, ClipValue(-3, 0, 1e9))
	assert.Equal(t, 1e9, ClipValue(1e12, 0, 1e9))
	assert.Equal(t, 0.5, ClipValue(0.5, 0, 1e9))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
