package log

// Model and operation context.
const (
	// ModelNameKey identifies the model type, e.g. "RandomForestMSE".
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies a stored model instance (its UUID in the service).
	EstimatorIDKey = "estimator.id"

	// OperationKey is the operation being performed: "fit", "predict", ...
	OperationKey = "ml.operation"

	// ComponentKey names the package or subsystem emitting the entry.
	ComponentKey = "ml.component"

	// PhaseKey is the lifecycle phase: "training", "inference", ...
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	SourceKey   = "data.source"
)

// Performance and training progress.
const (
	DurationMsKey = "perf.duration_ms"
	LossKey       = "metrics.loss"
	IterationKey  = "training.iteration"
	MembersKey    = "ensemble.members"
	WorkersKey    = "ensemble.workers"
	StepKey       = "boosting.step"
)

// Errors.
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	SuggestionKey = "error.suggestion"
)

// Hyperparameters.
const (
	HyperParamsKey  = "model.hyperparams"
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
)

// Service infrastructure.
const (
	JobIDKey     = "job.id"
	JobEventKey  = "job.event"
	JobStatusKey = "job.status"
	WorkerIDKey  = "infra.worker_id"
	RouteKey     = "http.route"
	StatusKey    = "http.status"
)

// Standard values.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationLoss    = "loss"

	PhaseTraining  = "training"
	PhaseInference = "inference"

	ErrorNotFitted    = "NOT_FITTED"
	ErrorUnsupported  = "UNSUPPORTED_FEATURE"
	ErrorInvalidInput = "INVALID_INPUT"
)
