// Package model_selection provides train/test splitting, k-fold
// cross-validation and exhaustive grid search.
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// TrainTestSplitIndices shuffles 0..n-1 with a PCG generator seeded by
// seed and returns the first ceil(testSize*n) positions as the test set.
// The same (n, testSize, seed) always yields the same partition.
func TrainTestSplitIndices(n int, testSize float64, seed uint64) (train, test []int, err error) {
	if !(testSize > 0 && testSize < 1) {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	if n <= 0 {
		return nil, nil, errors.NewModelError("TrainTestSplit", "empty data", errors.ErrEmptyData)
	}

	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("test_size=%g with %d samples leaves an empty training set", testSize, n))
	}

	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	test = append([]int(nil), perm[:nTest]...)
	train = append([]int(nil), perm[nTest:]...)
	return train, test, nil
}

// TrainTestSplit partitions X and y row-wise into train and test sets.
func TrainTestSplit(X, y mat.Matrix, testSize float64, seed uint64) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	rows, _ := X.Dims()
	yRows, _ := y.Dims()
	if rows != yRows {
		return nil, nil, nil, nil, errors.NewDimensionError("TrainTestSplit", rows, yRows, 0)
	}

	train, test, err := TrainTestSplitIndices(rows, testSize, seed)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return TakeRows(X, train), TakeRows(X, test), TakeRows(y, train), TakeRows(y, test), nil
}

// TakeRows copies the listed rows of m into a new dense matrix.
func TakeRows(m mat.Matrix, idx []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}
