// Package tree implements a CART decision tree regressor with the
// squared-error criterion.
package tree

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/metrics"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// Node is a single node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64 // mean target of the samples reaching the node
	NSamples  int
	Impurity  float64 // variance of the target within the node
}

// IsLeaf reports whether the node is a leaf.
func (n Node) IsLeaf() bool { return n.Feature < 0 }

// DecisionTreeRegressor is a regression tree. Hyperparameters and the
// fitted nodes are exported so that the model survives gob persistence.
type DecisionTreeRegressor struct {
	// Hyperparameters
	Criterion       string // only "squared_error" is supported
	MaxDepth        int    // 0 means the tree grows until leaves are pure
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int    // features considered per split; 0 means all
	RandomState     uint64 // seed for feature subsampling

	// Fitted state
	Nodes              []Node
	FeatureImportances []float64
	Depth              int
	State              *model.StateManager
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithCriterion sets the split criterion.
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeRegressor) { dt.Criterion = criterion }
}

// WithMaxDepth sets the maximum depth (0 for unlimited).
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MaxDepth = depth }
}

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples required in a leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features examined per split.
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MaxFeatures = n }
}

// WithRandomState sets the seed used when MaxFeatures subsamples features.
func WithRandomState(seed uint64) Option {
	return func(dt *DecisionTreeRegressor) { dt.RandomState = seed }
}

// NewDecisionTreeRegressor creates a tree with scikit-learn defaults.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		Criterion:       "squared_error",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		State:           model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeRegressor) validate() error {
	switch {
	case dt.Criterion != "squared_error" && dt.Criterion != "mse":
		return errors.NewValidationError("criterion", "must be squared_error", dt.Criterion)
	case dt.MaxDepth < 0:
		return errors.NewValidationError("max_depth", "must be >= 0", dt.MaxDepth)
	case dt.MinSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.MinSamplesSplit)
	case dt.MinSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.MinSamplesLeaf)
	case dt.MaxFeatures < 0:
		return errors.NewValidationError("max_features", "must be >= 0", dt.MaxFeatures)
	}
	return nil
}

// Fit grows the tree on every row of X.
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	rows, _ := X.Dims()
	sample := make([]int, rows)
	for i := range sample {
		sample[i] = i
	}
	return dt.FitSample(X, y, sample)
}

// FitSample grows the tree on the rows of X listed in sample. Indices may
// repeat, which is how bootstrap samples are passed in.
func (dt *DecisionTreeRegressor) FitSample(X, y mat.Matrix, sample []int) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")

	if err := dt.validate(); err != nil {
		return err
	}
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", 1, yCols, 1)
	}
	if err := errors.CheckMatrix("DecisionTreeRegressor.Fit", X, rows, cols, 0); err != nil {
		return err
	}
	if err := errors.CheckMatrix("DecisionTreeRegressor.Fit", y, yRows, 1, 0); err != nil {
		return err
	}
	if len(sample) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty sample", errors.ErrEmptyData)
	}
	for _, idx := range sample {
		if idx < 0 || idx >= rows {
			return errors.NewValueError("DecisionTreeRegressor.Fit", fmt.Sprintf("sample index %d out of range [0, %d)", idx, rows))
		}
	}

	b := newBuilder(dt, X, y, sample)
	b.build()

	dt.Nodes = b.nodes
	dt.Depth = b.maxDepth
	dt.FeatureImportances = b.importances()
	if dt.State == nil {
		dt.State = model.NewStateManager()
	}
	dt.State.MarkFitted(cols, len(sample))
	return nil
}

// Predict returns the leaf value reached by every row of X as an n×1 matrix.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.State.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.State.CheckFeatures("DecisionTreeRegressor.Predict", cols); err != nil {
		return nil, err
	}

	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, dt.predictRow(X, i))
	}
	return out, nil
}

// PredictInto adds the prediction for each row of X to dst. Used by
// ensembles to accumulate tree outputs without allocating.
func (dt *DecisionTreeRegressor) PredictInto(X mat.Matrix, dst []float64) {
	for i := range dst {
		dst[i] += dt.predictRow(X, i)
	}
}

func (dt *DecisionTreeRegressor) predictRow(X mat.Matrix, row int) float64 {
	n := 0
	for {
		node := &dt.Nodes[n]
		if node.IsLeaf() {
			return node.Value
		}
		if X.At(row, node.Feature) <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}

// Score returns the coefficient of determination R^2 of the prediction.
func (dt *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Scorer(y, pred)
}

// GetDepth returns the depth of the fitted tree.
func (dt *DecisionTreeRegressor) GetDepth() int { return dt.Depth }

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeRegressor) GetNLeaves() int {
	n := 0
	for _, node := range dt.Nodes {
		if node.IsLeaf() {
			n++
		}
	}
	return n
}

// GetFeatureImportances returns the normalised total impurity decrease per feature.
func (dt *DecisionTreeRegressor) GetFeatureImportances() []float64 {
	out := make([]float64, len(dt.FeatureImportances))
	copy(out, dt.FeatureImportances)
	return out
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeRegressor) GetParams(deep bool) map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.Criterion,
		"max_depth":         dt.MaxDepth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures,
		"random_state":      dt.RandomState,
	}
}

// SetParams sets hyperparameters by name.
func (dt *DecisionTreeRegressor) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			s, ok := value.(string)
			if !ok {
				return errors.NewValidationError(key, "must be a string", value)
			}
			dt.Criterion = s
		case "max_depth":
			dt.MaxDepth, err = model.IntParam(key, value)
		case "min_samples_split":
			dt.MinSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			dt.MinSamplesLeaf, err = model.IntParam(key, value)
		case "max_features":
			dt.MaxFeatures, err = model.IntParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			dt.RandomState = uint64(seed)
		default:
			return errors.NewValidationError(key, "unknown parameter for DecisionTreeRegressor", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an unfitted tree with the same hyperparameters.
func (dt *DecisionTreeRegressor) Clone() model.SKLearnCompatible {
	return &DecisionTreeRegressor{
		Criterion:       dt.Criterion,
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MinSamplesLeaf:  dt.MinSamplesLeaf,
		MaxFeatures:     dt.MaxFeatures,
		RandomState:     dt.RandomState,
		State:           model.NewStateManager(),
	}
}
