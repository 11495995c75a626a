// Package boxoffice predicts movie box-office revenue with a random forest
// tuned by cross-validated grid search.
//
// The repository is a small Go machine learning library with a
// scikit-learn-like API plus the pipeline that applies it to the TMDB 5000
// movie dataset.
//
// # Features
//
// - CART regression trees and bagged random forests with parallel tree fitting
// - Train/test split, k-fold cross-validation and exhaustive grid search on a bounded worker pool
// - TMDB movies and credits preprocessing into a typed Dataset
// - gob model persistence with bit-identical predictions after reload
// - Comparison tables and actual-vs-predicted scatter plots
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/boxoffice/sklearn/ensemble"
//	    "github.com/YuminosukeSato/boxoffice/sklearn/model_selection"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
//	    y := mat.NewDense(6, 1, []float64{2, 4, 6, 8, 10, 12})
//
//	    search := model_selection.NewGridSearchCV(
//	        ensemble.NewRandomForestRegressor(),
//	        model_selection.ParamGrid{"n_estimators": {10, 50}},
//	        model_selection.WithCV(3),
//	    )
//	    if err := search.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("Best:", search.BestParams())
//	}
//
// # Packages
//
//   - dataset: Dataset type, TMDB preprocessing, numeric table loading
//   - sklearn/tree: DecisionTreeRegressor
//   - sklearn/ensemble: RandomForestRegressor
//   - sklearn/model_selection: TrainTestSplit, KFold, ParamGrid, GridSearchCV
//   - metrics: Regression metrics (MSE, RMSE, MAE, R²) and named scorers
//   - report: Comparison tables and scatter plots
//   - linear: Least squares baseline regressor
//   - preprocessing: StandardScaler
//   - core/model: Estimator interfaces, fitted state, persistence
//   - core/parallel: Parallel processing utilities
//   - internal/pipeline: The end-to-end revenue workflow run by cmd/boxoffice
//
// # Running
//
//	go run ./cmd/boxoffice
//
// reads tmdb_5000_movies.csv and tmdb_5000_credits.csv from the working
// directory. Settings live in boxoffice.yaml or BOXOFFICE_* variables,
// e.g. BOXOFFICE_SEARCH__N_JOBS=4.
package boxoffice
