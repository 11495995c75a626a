package tree

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// TestDecisionTreeRegressor_FitPredict_Step tests a piecewise constant target
func TestDecisionTreeRegressor_FitPredict_Step(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})
	y := mat.NewDense(8, 1, []float64{
		10, 10, 10, 10,
		50, 50, 50, 50,
	})

	dt := NewDecisionTreeRegressor(WithMaxDepth(5))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	predictions, err := dt.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	for i := 0; i < 8; i++ {
		if predictions.At(i, 0) != y.At(i, 0) {
			t.Errorf("Sample %d: expected %v, got %v", i, y.At(i, 0), predictions.At(i, 0))
		}
	}

	XTest := mat.NewDense(2, 2, []float64{
		0.5, 0.5,
		3.5, 3.5,
	})
	testPreds, err := dt.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict test data: %v", err)
	}
	if testPreds.At(0, 0) != 10 || testPreds.At(1, 0) != 50 {
		t.Errorf("Expected [10 50], got [%v %v]", testPreds.At(0, 0), testPreds.At(1, 0))
	}

	if dt.GetDepth() != 1 {
		t.Errorf("Expected a single split, got depth %d", dt.GetDepth())
	}
	if dt.GetNLeaves() != 2 {
		t.Errorf("Expected 2 leaves, got %d", dt.GetNLeaves())
	}
}

func TestDecisionTreeRegressor_ThresholdIsMidpoint(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 6, 8})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	dt := NewDecisionTreeRegressor()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	root := dt.Nodes[0]
	if root.Feature != 0 || root.Threshold != 4 {
		t.Errorf("Expected split on feature 0 at 4, got feature %d at %v", root.Feature, root.Threshold)
	}
}

func TestDecisionTreeRegressor_ConstantTarget(t *testing.T) {
	X := mat.NewDense(5, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	y := mat.NewDense(5, 1, []float64{7, 7, 7, 7, 7})

	dt := NewDecisionTreeRegressor()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if len(dt.Nodes) != 1 {
		t.Errorf("Expected a single leaf, got %d nodes", len(dt.Nodes))
	}
	pred, _ := dt.Predict(mat.NewDense(1, 2, []float64{100, -100}))
	if pred.At(0, 0) != 7 {
		t.Errorf("Expected 7, got %v", pred.At(0, 0))
	}
	for j, imp := range dt.GetFeatureImportances() {
		if imp != 0 {
			t.Errorf("Feature %d: expected zero importance, got %v", j, imp)
		}
	}
}

func TestDecisionTreeRegressor_MaxDepth(t *testing.T) {
	X := mat.NewDense(16, 1, nil)
	y := mat.NewDense(16, 1, nil)
	for i := 0; i < 16; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i*i))
	}

	dt := NewDecisionTreeRegressor(WithMaxDepth(2))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if depth := dt.GetDepth(); depth > 2 {
		t.Errorf("Expected depth <= 2, got %d", depth)
	}
	if n := dt.GetNLeaves(); n > 4 {
		t.Errorf("Expected at most 4 leaves, got %d", n)
	}

	unlimited := NewDecisionTreeRegressor()
	if err := unlimited.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	// every distinct target ends in its own leaf
	if n := unlimited.GetNLeaves(); n != 16 {
		t.Errorf("Expected 16 leaves, got %d", n)
	}
}

func TestDecisionTreeRegressor_MinSamples(t *testing.T) {
	X := mat.NewDense(10, 2, nil)
	y := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%3))
		y.Set(i, 0, float64(i))
	}

	dt := NewDecisionTreeRegressor(
		WithMinSamplesSplit(5),
		WithMinSamplesLeaf(2),
	)
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf() && node.NSamples < 2 {
			t.Errorf("Leaf %d has %d samples, want >= 2", i, node.NSamples)
		}
		if !node.IsLeaf() && node.NSamples < 5 {
			t.Errorf("Internal node %d has %d samples, want >= 5", i, node.NSamples)
		}
	}
}

func TestDecisionTreeRegressor_FeatureImportances(t *testing.T) {
	// only feature 1 carries signal
	X := mat.NewDense(8, 3, []float64{
		5, 0, 1,
		3, 0, 2,
		9, 0, 1,
		1, 0, 2,
		4, 1, 1,
		8, 1, 2,
		2, 1, 1,
		6, 1, 2,
	})
	y := mat.NewDense(8, 1, []float64{1, 1, 1, 1, 9, 9, 9, 9})

	dt := NewDecisionTreeRegressor()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	importances := dt.GetFeatureImportances()
	if len(importances) != 3 {
		t.Fatalf("Expected 3 importances, got %d", len(importances))
	}
	if math.Abs(importances[1]-1.0) > 1e-9 {
		t.Errorf("Expected all importance on feature 1, got %v", importances)
	}
}

func TestDecisionTreeRegressor_FitSampleWithDuplicates(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 10, 20, 30})

	dt := NewDecisionTreeRegressor()
	if err := dt.FitSample(X, y, []int{0, 0, 3, 3}); err != nil {
		t.Fatal(err)
	}
	pred, _ := dt.Predict(X)
	want := []float64{0, 0, 30, 30}
	for i, w := range want {
		if pred.At(i, 0) != w {
			t.Errorf("row %d: expected %v, got %v", i, w, pred.At(i, 0))
		}
	}
	if _, nSamples := dt.State.GetDimensions(); nSamples != 4 {
		t.Errorf("Expected 4 samples recorded, got %d", nSamples)
	}

	if err := dt.FitSample(X, y, []int{0, 4}); err == nil {
		t.Error("Expected error for out-of-range sample index")
	}
}

func TestDecisionTreeRegressor_MaxFeaturesDeterministic(t *testing.T) {
	X := mat.NewDense(30, 4, nil)
	y := mat.NewDense(30, 1, nil)
	for i := 0; i < 30; i++ {
		for j := 0; j < 4; j++ {
			X.Set(i, j, float64((i*(j+3))%11))
		}
		y.Set(i, 0, X.At(i, 0)+2*X.At(i, 2))
	}

	fit := func() *DecisionTreeRegressor {
		dt := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(7))
		if err := dt.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		return dt
	}
	a, b := fit(), fit()
	if len(a.Nodes) != len(b.Nodes) {
		t.Fatalf("Expected identical trees, got %d and %d nodes", len(a.Nodes), len(b.Nodes))
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			t.Errorf("Node %d differs: %+v vs %+v", i, a.Nodes[i], b.Nodes[i])
		}
	}
}

func TestDecisionTreeRegressor_Score(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})

	dt := NewDecisionTreeRegressor()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	score, err := dt.Score(X, y)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(score-1.0) > 1e-12 {
		t.Errorf("Expected perfect training score, got %v", score)
	}
}

func TestDecisionTreeRegressor_Params(t *testing.T) {
	dt := NewDecisionTreeRegressor()

	params := dt.GetParams(true)
	if params["criterion"] != "squared_error" {
		t.Errorf("Expected default criterion squared_error, got %v", params["criterion"])
	}

	newParams := map[string]interface{}{
		"max_depth":         5,
		"min_samples_split": 4.0,
		"min_samples_leaf":  int64(2),
	}
	if err := dt.SetParams(newParams); err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}
	if dt.MaxDepth != 5 || dt.MinSamplesSplit != 4 || dt.MinSamplesLeaf != 2 {
		t.Errorf("Params not applied: %+v", dt.GetParams(true))
	}

	if err := dt.SetParams(map[string]interface{}{"learning_rate": 0.1}); err == nil {
		t.Error("Expected error for unknown parameter")
	}

	clone, ok := dt.Clone().(*DecisionTreeRegressor)
	if !ok {
		t.Fatal("Clone returned wrong type")
	}
	if clone.MaxDepth != 5 || clone.State.IsFitted() {
		t.Errorf("Clone should copy params and be unfitted: %+v", clone)
	}

	var _ model.SearchableEstimator = dt
}

func TestDecisionTreeRegressor_Errors(t *testing.T) {
	dt := NewDecisionTreeRegressor()
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	_, err := dt.Predict(X)
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFittedError, got %v", err)
	}

	if err := dt.Fit(X, mat.NewDense(3, 1, nil)); err == nil {
		t.Error("Expected dimension error")
	}

	bad := NewDecisionTreeRegressor(WithMinSamplesLeaf(0))
	if err := bad.Fit(X, mat.NewDense(2, 1, nil)); err == nil {
		t.Error("Expected validation error for min_samples_leaf=0")
	}

	nan := mat.NewDense(2, 2, []float64{1, math.NaN(), 3, 4})
	if err := dt.Fit(nan, mat.NewDense(2, 1, nil)); err == nil {
		t.Error("Expected error for NaN input")
	}

	if err := dt.Fit(X, mat.NewDense(2, 1, []float64{1, 2})); err != nil {
		t.Fatal(err)
	}
	_, err = dt.Predict(mat.NewDense(1, 3, nil))
	var de *errors.DimensionError
	if !errors.As(err, &de) {
		t.Errorf("Expected DimensionError, got %v", err)
	}
}
