// Package telemetry records pipeline metrics in a Prometheus registry and
// writes them out in the node_exporter textfile format.
package telemetry

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/sklearn/model_selection"
)

// Metrics holds the collectors of one pipeline run. Each run owns its
// registry so repeated runs in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	searchFits      *prometheus.CounterVec
	searchFitTime   prometheus.Histogram
	searchBestScore prometheus.Gauge
	candidates      prometheus.Gauge
	evaluation      *prometheus.GaugeVec
	phaseDuration   *prometheus.GaugeVec
	datasetRows     *prometheus.GaugeVec
}

// New creates a registry and registers the pipeline collectors. runID is
// attached to every series as a constant label.
func New(runID string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	return &Metrics{
		registry: reg,

		// searchFits counts finished candidate/fold jobs.
		searchFits: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "boxoffice_search_fits_total",
			Help:        "Total number of cross-validation fits finished by the grid search",
			ConstLabels: labels,
		}, []string{"fold"}),

		// searchFitTime measures one candidate/fold fit.
		searchFitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "boxoffice_search_fit_duration_seconds",
			Help:        "Duration of one cross-validation fit in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
			ConstLabels: labels,
		}),

		searchBestScore: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "boxoffice_search_best_score",
			Help:        "Mean cross-validated score of the selected candidate",
			ConstLabels: labels,
		}),

		candidates: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "boxoffice_search_candidates",
			Help:        "Number of hyperparameter candidates in the grid",
			ConstLabels: labels,
		}),

		// evaluation holds the test-set metrics keyed by metric name.
		evaluation: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "boxoffice_evaluation",
			Help:        "Test-set evaluation metrics of the final model",
			ConstLabels: labels,
		}, []string{"metric"}),

		phaseDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "boxoffice_phase_duration_seconds",
			Help:        "Wall time of each pipeline phase in seconds",
			ConstLabels: labels,
		}, []string{"phase"}),

		datasetRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "boxoffice_dataset_rows",
			Help:        "Number of rows in each dataset partition",
			ConstLabels: labels,
		}, []string{"partition"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFit records one finished search job. It has the FitCallback shape
// and is safe for concurrent use.
func (m *Metrics) ObserveFit(ev model_selection.FitEvent) {
	m.searchFits.WithLabelValues(strconv.Itoa(ev.Fold)).Inc()
	m.searchFitTime.Observe(ev.Duration.Seconds())
}

// SetCandidates records the grid size.
func (m *Metrics) SetCandidates(n int) { m.candidates.Set(float64(n)) }

// SetBestScore records the best mean cross-validated score.
func (m *Metrics) SetBestScore(score float64) { m.searchBestScore.Set(score) }

// SetEvaluation records one test-set metric, e.g. "mse".
func (m *Metrics) SetEvaluation(metric string, value float64) {
	m.evaluation.WithLabelValues(metric).Set(value)
}

// SetPhaseDuration records the wall time of a pipeline phase.
func (m *Metrics) SetPhaseDuration(phase string, seconds float64) {
	m.phaseDuration.WithLabelValues(phase).Set(seconds)
}

// SetRows records the size of a dataset partition ("all", "train", "test").
func (m *Metrics) SetRows(partition string, rows int) {
	m.datasetRows.WithLabelValues(partition).Set(float64(rows))
}

// WriteTextfile writes every metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
