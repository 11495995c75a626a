// Package metrics provides the regression metrics and scorers used for
// model evaluation and cross-validated search.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// residuals は yTrue - yPred を返す。長さ0または長さ不一致はエラー
func residuals(op string, yTrue, yPred *mat.VecDense) (*mat.VecDense, error) {
	n := yTrue.Len()
	if n == 0 {
		return nil, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return nil, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	diff := mat.NewVecDense(n, nil)
	diff.SubVec(yTrue, yPred)
	return diff, nil
}

// MSE は平均二乗誤差を計算する。
// 予測が目標値と完全に一致する場合に限り 0 を返す。
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	diff, err := residuals("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return mat.Dot(diff, diff) / float64(diff.Len()), nil
}

// MSEMatrix は n×1 行列どうしのMSE
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()
	switch {
	case rTrue == 0 || cTrue == 0:
		return 0, errors.NewValueError("MSEMatrix", "empty matrix")
	case rTrue != rPred || cTrue != cPred:
		return 0, errors.NewDimensionError("MSEMatrix", rTrue, rPred, 0)
	case cTrue != 1:
		return 0, errors.NewValueError("MSEMatrix", "must be a column vector (n×1 matrix)")
	}
	return MSE(
		mat.NewVecDense(rTrue, mat.Col(nil, 0, yTrue)),
		mat.NewVecDense(rPred, mat.Col(nil, 0, yPred)),
	)
}

// RMSE は MSE の平方根
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	diff, err := residuals("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return mat.Norm(diff, 1) / float64(diff.Len()), nil
}

// R2Score は決定係数（R²）を計算する。
// yTrue の分散が0のときは定義できないため、完全一致なら1、
// それ以外は0を返して UndefinedMetricWarning を出す。
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	diff, err := residuals("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	rss := mat.Dot(diff, diff)

	values := mat.Col(nil, 0, yTrue)
	mean := stat.Mean(values, nil)
	var tss float64
	for _, v := range values {
		tss += (v - mean) * (v - mean)
	}

	if tss == 0 {
		result := 0.0
		if rss == 0 {
			result = 1.0
		}
		errors.Warn(errors.NewUndefinedMetricWarning("r2_score", "zero variance in y_true", result))
		return result, nil
	}
	return 1 - rss/tss, nil
}
