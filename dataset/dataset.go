// Package dataset holds the typed feature/target table the pipeline trains
// on, together with loaders for the TMDB movie files and for plain numeric
// tables.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/sklearn/model_selection"
)

// Dataset is an immutable table of numeric features and one target per row.
// Index keeps the position of every row in the table it was first built
// from, so subsets and samples stay traceable.
type Dataset struct {
	featureNames []string
	x            *mat.Dense
	y            *mat.VecDense
	index        []int
	labels       []string
}

// New validates and builds a Dataset. rows must all have len(featureNames)
// values and every value must be finite. labels may be nil.
func New(featureNames []string, rows [][]float64, targets []float64, labels []string) (*Dataset, error) {
	index := make([]int, len(rows))
	for i := range index {
		index[i] = i
	}
	return build(featureNames, rows, targets, labels, index)
}

func build(featureNames []string, rows [][]float64, targets []float64, labels []string, index []int) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, errors.NewModelError("dataset.New", "empty data", errors.ErrEmptyData)
	}
	if len(featureNames) == 0 {
		return nil, errors.NewValueError("dataset.New", "at least one feature is required")
	}
	if len(targets) != len(rows) {
		return nil, errors.NewDimensionError("dataset.New", len(rows), len(targets), 0)
	}
	if labels != nil && len(labels) != len(rows) {
		return nil, errors.NewDimensionError("dataset.New", len(rows), len(labels), 0)
	}

	nFeatures := len(featureNames)
	data := make([]float64, 0, len(rows)*nFeatures)
	for i, row := range rows {
		if len(row) != nFeatures {
			return nil, errors.NewValueError("dataset.New",
				fmt.Sprintf("row %d has %d values, expected %d", i, len(row), nFeatures))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.NewValueError("dataset.New",
					fmt.Sprintf("row %d: feature %q is not finite (%v)", i, featureNames[j], v))
			}
		}
		data = append(data, row...)
	}
	for i, v := range targets {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewValueError("dataset.New", fmt.Sprintf("row %d: target is not finite (%v)", i, v))
		}
	}

	ds := &Dataset{
		featureNames: append([]string(nil), featureNames...),
		x:            mat.NewDense(len(rows), nFeatures, data),
		y:            mat.NewVecDense(len(targets), append([]float64(nil), targets...)),
		index:        append([]int(nil), index...),
	}
	if labels != nil {
		ds.labels = append([]string(nil), labels...)
	}
	return ds, nil
}

// Rows returns the number of rows.
func (d *Dataset) Rows() int { return len(d.index) }

// NFeatures returns the number of feature columns.
func (d *Dataset) NFeatures() int { return len(d.featureNames) }

// FeatureNames returns a copy of the feature column names.
func (d *Dataset) FeatureNames() []string { return append([]string(nil), d.featureNames...) }

// X returns a read-only view of the feature matrix.
func (d *Dataset) X() mat.Matrix { return d.x }

// Y returns a read-only view of the targets as an n×1 matrix.
func (d *Dataset) Y() mat.Matrix { return d.y }

// Targets returns a copy of the targets.
func (d *Dataset) Targets() []float64 {
	out := make([]float64, d.y.Len())
	for i := range out {
		out[i] = d.y.AtVec(i)
	}
	return out
}

// Row returns a copy of the features of row i.
func (d *Dataset) Row(i int) []float64 { return mat.Row(nil, i, d.x) }

// Index returns the original row positions.
func (d *Dataset) Index() []int { return append([]int(nil), d.index...) }

// Label returns the label of row i, or "" when the dataset has none.
func (d *Dataset) Label(i int) string {
	if d.labels == nil {
		return ""
	}
	return d.labels[i]
}

// HasLabels reports whether rows carry labels.
func (d *Dataset) HasLabels() bool { return d.labels != nil }

// Subset returns the rows at the given positions, in that order.
func (d *Dataset) Subset(idx []int) (*Dataset, error) {
	rows := make([][]float64, len(idx))
	targets := make([]float64, len(idx))
	index := make([]int, len(idx))
	var labels []string
	if d.labels != nil {
		labels = make([]string, len(idx))
	}
	for k, i := range idx {
		if i < 0 || i >= d.Rows() {
			return nil, errors.NewValueError("Dataset.Subset", fmt.Sprintf("row %d out of range [0, %d)", i, d.Rows()))
		}
		rows[k] = d.Row(i)
		targets[k] = d.y.AtVec(i)
		index[k] = d.index[i]
		if labels != nil {
			labels[k] = d.labels[i]
		}
	}
	return build(d.featureNames, rows, targets, labels, index)
}

// Split partitions the rows into a training and a test set using
// model_selection.TrainTestSplitIndices. Index and labels stay aligned.
func (d *Dataset) Split(testSize float64, seed uint64) (train, test *Dataset, err error) {
	trainIdx, testIdx, err := model_selection.TrainTestSplitIndices(d.Rows(), testSize, seed)
	if err != nil {
		return nil, nil, err
	}
	if train, err = d.Subset(trainIdx); err != nil {
		return nil, nil, err
	}
	if test, err = d.Subset(testIdx); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// Sample draws n distinct rows without replacement. When n exceeds the
// number of rows it is clamped, a TruncatedSampleWarning is raised and
// every row is returned exactly once.
func (d *Dataset) Sample(n int, rng *rand.Rand) (*Dataset, error) {
	if n < 1 {
		return nil, errors.NewValidationError("n", "sample size must be >= 1", n)
	}
	if n > d.Rows() {
		errors.Warn(errors.NewTruncatedSampleWarning(n, d.Rows()))
		n = d.Rows()
	}
	perm := rng.Perm(d.Rows())
	return d.Subset(perm[:n])
}
