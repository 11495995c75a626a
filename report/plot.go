package report

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// ScatterOptions controls the look of a prediction scatter plot. Zero
// values fall back to DefaultScatterOptions.
type ScatterOptions struct {
	Width      vg.Length
	Height     vg.Length
	PointColor color.Color
	PointLabel string
	XLabel     string
	YLabel     string
}

// DefaultScatterOptions returns an 8x6 inch plot with half-transparent blue points.
func DefaultScatterOptions() ScatterOptions {
	return ScatterOptions{
		Width:      8 * vg.Inch,
		Height:     6 * vg.Inch,
		PointColor: color.NRGBA{B: 255, A: 128},
		PointLabel: "Predicted vs Actual",
		XLabel:     "Actual Revenue",
		YLabel:     "Predicted Revenue",
	}
}

func (o ScatterOptions) withDefaults() ScatterOptions {
	d := DefaultScatterOptions()
	if o.Width > 0 {
		d.Width = o.Width
	}
	if o.Height > 0 {
		d.Height = o.Height
	}
	if o.PointColor != nil {
		d.PointColor = o.PointColor
	}
	if o.PointLabel != "" {
		d.PointLabel = o.PointLabel
	}
	if o.XLabel != "" {
		d.XLabel = o.XLabel
	}
	if o.YLabel != "" {
		d.YLabel = o.YLabel
	}
	return d
}

// siTicks labels axis ticks with SI prefixes (1.5G rather than 1.5e+09).
type siTicks struct{}

func (siTicks) Ticks(min, max float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(min, max)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = humanize.SIWithDigits(ticks[i].Value, 1, "")
		}
	}
	return ticks
}

// SavePredictionScatter draws predicted against actual values with an
// identity reference line from the minimum to the maximum actual value,
// and writes the plot to path. The image format follows the extension.
func SavePredictionScatter(path, title string, actual, predicted []float64, opts ScatterOptions) error {
	if len(actual) == 0 {
		return errors.NewModelError("report.SavePredictionScatter", "empty data", errors.ErrEmptyData)
	}
	if len(actual) != len(predicted) {
		return errors.NewDimensionError("report.SavePredictionScatter", len(actual), len(predicted), 0)
	}
	opts = opts.withDefaults()

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	p.X.Tick.Marker = siTicks{}
	p.Y.Tick.Marker = siTicks{}
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(actual))
	lo, hi := actual[0], actual[0]
	for i := range actual {
		pts[i] = plotter.XY{X: actual[i], Y: predicted[i]}
		lo = min(lo, actual[i])
		hi = max(hi, actual[i])
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "build scatter")
	}
	scatter.GlyphStyle.Color = opts.PointColor
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(3)

	ideal, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "build identity line")
	}
	ideal.LineStyle.Color = color.NRGBA{R: 255, A: 255}
	ideal.LineStyle.Width = vg.Points(1.5)

	p.Add(scatter, ideal)
	p.Legend.Add(opts.PointLabel, scatter)
	p.Legend.Add("Ideal Fit", ideal)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create plot directory for %s", path)
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
