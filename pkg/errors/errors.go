// Package errors provides the error taxonomy and warning system used across WebEnsemble.
// Structured error types carry a stack trace from cockroachdb/errors and can be
// logged as structured zerolog objects.
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("WebEnsemble-Warning: %v\n", w)
	}
	// set by pkg/log to avoid an import cycle
	zerologWarnFunc func(warning error)
)

// SetWarningHandler sets the process-wide warning handler.
//
// Example:
//
//	errors.SetWarningHandler(func(w error) {
//	    // ignore warnings
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc installs the zerolog-backed warning function.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn emits a warning. The zerolog function takes precedence over the plain handler.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// SubsampleWarning is raised when a requested subsample size had to be clamped.
type SubsampleWarning struct {
	Param     string
	Requested float64
	Used      int
	Total     int
}

func (w *SubsampleWarning) Error() string {
	return fmt.Sprintf("%s=%g selects no element out of %d, using %d instead", w.Param, w.Requested, w.Total, w.Used)
}

// MarshalZerologObject adds the structured warning to a zerolog event.
func (w *SubsampleWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("param", w.Param).
		Float64("requested", w.Requested).
		Int("used", w.Used).
		Int("total", w.Total).
		Str("type", "SubsampleWarning")
}

// NewSubsampleWarning creates a SubsampleWarning.
func NewSubsampleWarning(param string, requested float64, used, total int) *SubsampleWarning {
	return &SubsampleWarning{Param: param, Requested: requested, Used: used, Total: total}
}

// ===========================================================================
//
//	Structured errors
//
// ===========================================================================

// NotFittedError is returned when Predict is called on a model without trained members.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("webensemble: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds the structured error to a zerolog event.
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError creates a NotFittedError with a stack trace.
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// UnsupportedFeatureError is returned when a caller requests a capability the
// model knows about but cannot provide yet. It unwraps to ErrNotImplemented.
type UnsupportedFeatureError struct {
	ModelName string
	Feature   string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("webensemble: %s: %s is not supported", e.ModelName, e.Feature)
}

func (e *UnsupportedFeatureError) Unwrap() error {
	return ErrNotImplemented
}

// MarshalZerologObject adds the structured error to a zerolog event.
func (e *UnsupportedFeatureError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("feature", e.Feature).
		Str("type", "UnsupportedFeatureError")
}

// NewUnsupportedFeatureError creates an UnsupportedFeatureError with a stack trace.
func NewUnsupportedFeatureError(modelName, feature string) error {
	err := &UnsupportedFeatureError{ModelName: modelName, Feature: feature}
	return errors.WithStack(err)
}

// DataError reports malformed input data detected before it reaches a model,
// e.g. a non-numeric CSV cell or a missing target column.
type DataError struct {
	Source string
	Row    int // 1-based data row, 0 when not row specific
	Column string
	Reason string
}

func (e *DataError) Error() string {
	switch {
	case e.Row > 0 && e.Column != "":
		return fmt.Sprintf("webensemble: bad data in %s at row %d, column %q: %s", e.Source, e.Row, e.Column, e.Reason)
	case e.Column != "":
		return fmt.Sprintf("webensemble: bad data in %s, column %q: %s", e.Source, e.Column, e.Reason)
	default:
		return fmt.Sprintf("webensemble: bad data in %s: %s", e.Source, e.Reason)
	}
}

// MarshalZerologObject adds the structured error to a zerolog event.
func (e *DataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("source", e.Source).
		Int("row", e.Row).
		Str("column", e.Column).
		Str("reason", e.Reason).
		Str("type", "DataError")
}

// NewDataError creates a DataError with a stack trace.
func NewDataError(source string, row int, column, reason string) error {
	err := &DataError{Source: source, Row: row, Column: column, Reason: reason}
	return errors.WithStack(err)
}

// DimensionError is returned when input dimensions differ from what was expected.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("webensemble: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace.
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError is returned when a hyperparameter fails validation.
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("webensemble: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject adds the structured error to a zerolog event.
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError creates a ValidationError with a stack trace.
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ModelError is a general error raised while operating on a model.
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webensemble: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("webensemble: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError creates a ModelError with a stack trace.
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// NumericalInstabilityError reports NaN or Inf values produced by a computation.
type NumericalInstabilityError struct {
	Operation string
	Values    []float64
	Iteration int
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("webensemble: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError creates a NumericalInstabilityError with a stack trace.
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap annotates err with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates an error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack attaches a stack trace to err.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	Sentinel errors
//
// ===========================================================================

var (
	// ErrNotImplemented marks a capability that is not implemented.
	ErrNotImplemented = New("not implemented")

	// ErrEmptyData is returned when an empty dataset is passed in.
	ErrEmptyData = New("empty data")
)
