package model

// ParameterGetter exposes hyperparameters as plain values.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters keyed by their snake_case name.
	GetParams() map[string]interface{}
}

// Named models report the type name used in logs and errors.
type Named interface {
	Name() string
}
