// Package linear provides an ordinary least squares regressor used as a
// baseline for the tree ensembles.
package linear

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/core/parallel"
	"github.com/YuminosukeSato/boxoffice/metrics"
	"github.com/YuminosukeSato/boxoffice/preprocessing"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// rankTolerance はRの対角成分を最大値に対して相対的に0とみなす閾値
const rankTolerance = 1e-10

// LinearRegression は最小二乗法による線形回帰モデル
type LinearRegression struct {
	Weights   []float64 // 重み（係数）
	Intercept float64   // 切片
	State     *model.StateManager
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{State: model.NewStateManager()}
}

// Fit はモデルを訓練データで学習させる。
// 特徴量を標準化してからQR分解で最小二乗解を求め、元のスケールに戻す。
// 定数列の係数は0になる。共線な特徴量があるとErrSingularMatrixを返す。
func (lr *LinearRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LinearRegression.Fit")

	// 入力の検証
	r, c := X.Dims()
	ry, cy := y.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return errors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewDimensionError("LinearRegression.Fit", 1, cy, 1)
	}
	if err := errors.CheckMatrix("LinearRegression.Fit", X, r, c, 0); err != nil {
		return err
	}
	if err := errors.CheckMatrix("LinearRegression.Fit", y, r, 1, 0); err != nil {
		return err
	}

	// 列ごとに標準化し、定数列は計画行列から外す
	scaler := preprocessing.NewStandardScaler(true, true)
	Z, err := scaler.FitTransform(X)
	if err != nil {
		return err
	}
	var active []int
	for j, constant := range scaler.Constant {
		if !constant {
			active = append(active, j)
		}
	}

	var yMean float64
	for i := 0; i < r; i++ {
		yMean += y.At(i, 0)
	}
	yMean /= float64(r)

	weights := make([]float64, c)
	if len(active) > 0 {
		if len(active) > r {
			return errors.NewModelError("LinearRegression.Fit", "more features than samples", errors.ErrSingularMatrix)
		}

		// 標準化した計画行列と中心化した目的変数
		design := mat.NewDense(r, len(active), nil)
		target := mat.NewVecDense(r, nil)
		parallel.ParallelizeWithThreshold(r, parallelThreshold, 0, func(start, end int) {
			for i := start; i < end; i++ {
				for k, j := range active {
					design.Set(i, k, Z.At(i, j))
				}
				target.SetVec(i, y.At(i, 0)-yMean)
			}
		})

		var qr mat.QR
		qr.Factorize(design)
		if !fullRank(&qr) {
			return errors.NewModelError("LinearRegression.Fit", "rank deficient design matrix", errors.ErrSingularMatrix)
		}
		var coef mat.VecDense
		if err := qr.SolveVecTo(&coef, false, target); err != nil {
			return errors.NewModelError("LinearRegression.Fit", "rank deficient design matrix", errors.ErrSingularMatrix)
		}
		if err := errors.CheckNumericalStability("LinearRegression.Fit", coef.RawVector().Data, 0); err != nil {
			return err
		}
		for k, j := range active {
			weights[j] = coef.AtVec(k) / scaler.Scale[j]
		}
	}

	intercept := yMean
	for j, w := range weights {
		intercept -= w * scaler.Mean[j]
	}

	lr.Weights = weights
	lr.Intercept = intercept
	if lr.State == nil {
		lr.State = model.NewStateManager()
	}
	lr.State.MarkFitted(c, r)
	return nil
}

// fullRank はQR分解のRの対角成分がすべて十分大きいかを判定する
func fullRank(qr *mat.QR) bool {
	var R mat.Dense
	qr.RTo(&R)
	_, k := R.Dims()

	var largest float64
	for i := 0; i < k; i++ {
		largest = math.Max(largest, math.Abs(R.At(i, i)))
	}
	for i := 0; i < k; i++ {
		if math.Abs(R.At(i, i)) <= rankTolerance*largest {
			return false
		}
	}
	return true
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.State.RequireFitted("LinearRegression", "Predict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := lr.State.CheckFeatures("LinearRegression.Predict", c); err != nil {
		return nil, err
	}

	// 予測: y = X * weights + intercept
	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := lr.Intercept
		for j, w := range lr.Weights {
			pred += X.At(i, j) * w
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算する
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	yPred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Scorer(y, yPred)
}
