// Package log defines standard attribute keys for machine learning operations.
//
// Using these keys keeps log lines from the loader, the estimators and the
// grid search consistent, so a run can be filtered by phase, model or
// candidate after the fact. Keys follow a hierarchical naming convention
// (e.g. "model.name", "data.samples").

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "RandomForestRegressor", "DecisionTreeRegressor"
	ModelNameKey = "model.name"

	// EstimatorIDKey provides a unique identifier for a specific model instance or run.
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the machine learning operation being performed.
	// Standard values: "fit", "predict", "score", "search"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	// Examples: "dataset", "model_selection", "report"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// PathKey is the file a dataset or artifact was read from or written to.
	PathKey = "data.path"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// MSEKey records mean squared error on held-out data.
	MSEKey = "metrics.mse"

	// RMSEKey records root mean squared error on held-out data.
	RMSEKey = "metrics.rmse"

	// MAEKey records mean absolute error on held-out data.
	MAEKey = "metrics.mae"

	// R2ScoreKey records R² coefficient of determination for regression.
	R2ScoreKey = "metrics.r2_score"

	// ScoreKey records a cross-validation score (higher is better).
	ScoreKey = "metrics.score"
)

// Model selection
const (
	// CandidateKey is the index of a hyperparameter candidate in grid order.
	CandidateKey = "search.candidate"

	// FoldKey is the index of a cross-validation fold.
	FoldKey = "search.fold"

	// CandidatesKey is the total number of grid candidates.
	CandidatesKey = "search.candidates"

	// FoldsKey is the number of cross-validation folds.
	FoldsKey = "search.folds"

	// WorkersKey is the size of the worker pool.
	WorkersKey = "search.workers"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute value constants for common operations.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationScore   = "score"
	OperationSearch  = "search"
	OperationLoad    = "load"
	OperationSave    = "save"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
	PhaseReporting     = "reporting"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
)
