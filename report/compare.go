// Package report renders model predictions for people: a side-by-side
// revenue table and actual-vs-predicted scatter plots.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/dataset"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// ComparisonRow is one row of actual against predicted revenue.
type ComparisonRow struct {
	Index     int     `json:"index"`
	Label     string  `json:"label,omitempty"`
	Actual    float64 `json:"actual"`
	Predicted float64 `json:"predicted"`
}

// Comparison pairs actual and predicted targets for a set of rows.
type Comparison struct {
	Rows      []ComparisonRow `json:"rows"`
	hasLabels bool
}

// Compare predicts every row of ds with m.
func Compare(m model.Predictor, ds *dataset.Dataset) (*Comparison, error) {
	pred, err := m.Predict(ds.X())
	if err != nil {
		return nil, errors.Wrap(err, "predict comparison rows")
	}
	rows, _ := pred.Dims()
	if rows != ds.Rows() {
		return nil, errors.NewDimensionError("report.Compare", ds.Rows(), rows, 0)
	}

	index := ds.Index()
	c := &Comparison{Rows: make([]ComparisonRow, rows), hasLabels: ds.HasLabels()}
	for i := range c.Rows {
		c.Rows[i] = ComparisonRow{
			Index:     index[i],
			Label:     ds.Label(i),
			Actual:    ds.Y().At(i, 0),
			Predicted: pred.At(i, 0),
		}
	}
	return c, nil
}

// Actual returns the actual values in row order.
func (c *Comparison) Actual() []float64 {
	out := make([]float64, len(c.Rows))
	for i, r := range c.Rows {
		out[i] = r.Actual
	}
	return out
}

// Predicted returns the predicted values in row order.
func (c *Comparison) Predicted() []float64 {
	out := make([]float64, len(c.Rows))
	for i, r := range c.Rows {
		out[i] = r.Predicted
	}
	return out
}

// FormatRevenue rounds v to a whole unit and inserts thousands separators.
func FormatRevenue(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

// WriteTable writes an aligned table of the rows. Revenue is rounded to
// whole units with thousands separators.
func (c *Comparison) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	if c.hasLabels {
		fmt.Fprint(tw, "Index\tTitle\tActual Revenue\tPredicted Revenue\t\n")
	} else {
		fmt.Fprint(tw, "Index\tActual Revenue\tPredicted Revenue\t\n")
	}
	for _, r := range c.Rows {
		if c.hasLabels {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", r.Index, r.Label, FormatRevenue(r.Actual), FormatRevenue(r.Predicted))
		} else {
			fmt.Fprintf(tw, "%d\t%s\t%s\t\n", r.Index, FormatRevenue(r.Actual), FormatRevenue(r.Predicted))
		}
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "write comparison table")
	}
	return nil
}
