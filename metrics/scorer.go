package metrics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// Scorer scores predictions against targets. Greater is better, so loss
// metrics are negated.
type Scorer func(yTrue, yPred mat.Matrix) (float64, error)

// NegMeanSquaredError is the negated MSE, the default search criterion.
func NegMeanSquaredError(yTrue, yPred mat.Matrix) (float64, error) {
	mse, err := MSEMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return -mse, nil
}

// NegMeanAbsoluteError is the negated MAE.
func NegMeanAbsoluteError(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnVectors("NegMeanAbsoluteError", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	mae, err := MAE(t, p)
	if err != nil {
		return 0, err
	}
	return -mae, nil
}

// R2Scorer wraps R2Score for matrix input.
func R2Scorer(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnVectors("R2Scorer", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return R2Score(t, p)
}

var scorers = map[string]Scorer{
	"neg_mean_squared_error":  NegMeanSquaredError,
	"neg_mean_absolute_error": NegMeanAbsoluteError,
	"r2":                      R2Scorer,
}

// GetScorer returns the scorer registered under name.
func GetScorer(name string) (Scorer, error) {
	s, ok := scorers[name]
	if !ok {
		return nil, errors.NewValidationError("scoring",
			fmt.Sprintf("unknown scorer, expected one of %v", ScorerNames()), name)
	}
	return s, nil
}

// ScorerNames lists the registered scorer names in sorted order.
func ScorerNames() []string {
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func columnVectors(op string, yTrue, yPred mat.Matrix) (*mat.VecDense, *mat.VecDense, error) {
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()
	if rTrue == 0 {
		return nil, nil, errors.NewValueError(op, "empty matrix")
	}
	if cTrue != 1 || cPred != 1 {
		return nil, nil, errors.NewValueError(op, "must be a column vector (n×1 matrix)")
	}
	if rTrue != rPred {
		return nil, nil, errors.NewDimensionError(op, rTrue, rPred, 0)
	}
	return mat.NewVecDense(rTrue, mat.Col(nil, 0, yTrue)), mat.NewVecDense(rPred, mat.Col(nil, 0, yPred)), nil
}
