// Package ensemble implements bagged tree ensembles.
package ensemble

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/core/parallel"
	"github.com/YuminosukeSato/boxoffice/metrics"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/pkg/log"
	"github.com/YuminosukeSato/boxoffice/sklearn/tree"
)

// RandomForestRegressor averages the predictions of regression trees
// fitted on bootstrap samples of the training set.
type RandomForestRegressor struct {
	// Hyperparameters (matching scikit-learn)
	NEstimators     int    // Number of trees
	MaxDepth        int    // Maximum tree depth, 0 for unlimited
	MinSamplesSplit int    // Minimum samples required to split a node
	MinSamplesLeaf  int    // Minimum samples required in a leaf
	MaxFeatures     int    // Features considered per split, 0 for all
	Bootstrap       bool   // Sample rows with replacement for each tree
	RandomState     uint64 // Seed for bootstrap samples and feature subsampling
	NJobs           int    // Workers for tree fitting, <= 0 for all cores

	// Fitted state
	Trees []*tree.DecisionTreeRegressor
	State *model.StateManager
}

// NewRandomForestRegressor creates a forest with scikit-learn defaults.
func NewRandomForestRegressor() *RandomForestRegressor {
	return &RandomForestRegressor{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		State:           model.NewStateManager(),
	}
}

// WithNEstimators sets the number of trees
func (rf *RandomForestRegressor) WithNEstimators(n int) *RandomForestRegressor {
	rf.NEstimators = n
	return rf
}

// WithMaxDepth sets the maximum depth
func (rf *RandomForestRegressor) WithMaxDepth(d int) *RandomForestRegressor {
	rf.MaxDepth = d
	return rf
}

// WithMinSamplesSplit sets min_samples_split
func (rf *RandomForestRegressor) WithMinSamplesSplit(n int) *RandomForestRegressor {
	rf.MinSamplesSplit = n
	return rf
}

// WithMinSamplesLeaf sets min_samples_leaf
func (rf *RandomForestRegressor) WithMinSamplesLeaf(n int) *RandomForestRegressor {
	rf.MinSamplesLeaf = n
	return rf
}

// WithMaxFeatures sets max_features
func (rf *RandomForestRegressor) WithMaxFeatures(n int) *RandomForestRegressor {
	rf.MaxFeatures = n
	return rf
}

// WithBootstrap toggles bootstrap sampling
func (rf *RandomForestRegressor) WithBootstrap(b bool) *RandomForestRegressor {
	rf.Bootstrap = b
	return rf
}

// WithRandomState sets the random seed
func (rf *RandomForestRegressor) WithRandomState(seed uint64) *RandomForestRegressor {
	rf.RandomState = seed
	return rf
}

// WithNJobs sets the number of workers used to fit trees
func (rf *RandomForestRegressor) WithNJobs(n int) *RandomForestRegressor {
	rf.NJobs = n
	return rf
}

func (rf *RandomForestRegressor) validate() error {
	if rf.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.NEstimators)
	}
	if rf.MaxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0", rf.MaxDepth)
	}
	if rf.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", rf.MinSamplesSplit)
	}
	if rf.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", rf.MinSamplesLeaf)
	}
	if rf.MaxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be >= 0", rf.MaxFeatures)
	}
	return nil
}

// Fit trains the forest. Per-tree seeds are drawn sequentially from a
// generator seeded with RandomState, so the result does not depend on
// NJobs.
func (rf *RandomForestRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Fit")

	if err := rf.validate(); err != nil {
		return err
	}
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("RandomForestRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError("RandomForestRegressor.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("RandomForestRegressor.Fit", 1, yCols, 1)
	}

	logger := log.GetLoggerWithName("ensemble.random_forest")
	if logger.Enabled(context.Background(), log.LevelDebug) {
		logger.Debug("Training RandomForestRegressor",
			log.OperationKey, log.OperationFit,
			log.SamplesKey, rows,
			log.FeaturesKey, cols,
			log.HyperParamsKey, rf.GetParams(false))
	}

	master := rand.New(rand.NewPCG(rf.RandomState, rf.RandomState))
	trees := make([]*tree.DecisionTreeRegressor, rf.NEstimators)
	samples := make([][]int, rf.NEstimators)
	for t := range trees {
		seed := master.Uint64()
		trees[t] = tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(rf.MaxDepth),
			tree.WithMinSamplesSplit(rf.MinSamplesSplit),
			tree.WithMinSamplesLeaf(rf.MinSamplesLeaf),
			tree.WithMaxFeatures(rf.MaxFeatures),
			tree.WithRandomState(seed),
		)
		samples[t] = bootstrapSample(rows, rf.Bootstrap, seed)
	}

	fitErrs := make([]error, rf.NEstimators)
	parallel.Parallelize(rf.NEstimators, rf.NJobs, func(start, end int) {
		for t := start; t < end; t++ {
			fitErrs[t] = errors.SafeExecute("RandomForestRegressor.Fit.tree", func() error {
				return trees[t].FitSample(X, y, samples[t])
			})
		}
	})
	for t, fitErr := range fitErrs {
		if fitErr != nil {
			return errors.Wrapf(fitErr, "fit tree %d", t)
		}
	}

	rf.Trees = trees
	if rf.State == nil {
		rf.State = model.NewStateManager()
	}
	rf.State.MarkFitted(cols, rows)
	return nil
}

// bootstrapSample draws n row indices with replacement, or returns every
// row once when bootstrap is off.
func bootstrapSample(n int, bootstrap bool, seed uint64) []int {
	sample := make([]int, n)
	if !bootstrap {
		for i := range sample {
			sample[i] = i
		}
		return sample
	}
	rng := rand.New(rand.NewPCG(seed, ^seed))
	for i := range sample {
		sample[i] = rng.IntN(n)
	}
	return sample
}

// Predict returns the mean tree prediction for every row as an n×1 matrix.
func (rf *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.State.RequireFitted("RandomForestRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := rf.State.CheckFeatures("RandomForestRegressor.Predict", cols); err != nil {
		return nil, err
	}

	sum := make([]float64, rows)
	for _, t := range rf.Trees {
		t.PredictInto(X, sum)
	}
	n := float64(len(rf.Trees))
	for i := range sum {
		sum[i] /= n
	}
	return mat.NewDense(rows, 1, sum), nil
}

// Score returns the coefficient of determination R^2 of the prediction.
func (rf *RandomForestRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Scorer(y, pred)
}

// FeatureImportances returns the mean of the per-tree importances.
func (rf *RandomForestRegressor) FeatureImportances() ([]float64, error) {
	if err := rf.State.RequireFitted("RandomForestRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := rf.State.GetDimensions()
	out := make([]float64, nFeatures)
	for _, t := range rf.Trees {
		for j, v := range t.FeatureImportances {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(rf.Trees))
	}
	return out, nil
}
