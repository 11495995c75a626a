// Package pipeline runs the box-office workflow end to end: load, split,
// tune, persist, evaluate and report.
package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/dataset"
	"github.com/YuminosukeSato/boxoffice/internal/config"
	"github.com/YuminosukeSato/boxoffice/internal/telemetry"
	"github.com/YuminosukeSato/boxoffice/linear"
	"github.com/YuminosukeSato/boxoffice/metrics"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/pkg/log"
	"github.com/YuminosukeSato/boxoffice/report"
	"github.com/YuminosukeSato/boxoffice/sklearn/ensemble"
	"github.com/YuminosukeSato/boxoffice/sklearn/model_selection"
)

// Plot file names written under output.plot_dir.
const (
	HoldoutPlotFile = "actual_vs_predicted.png"
	SamplePlotFile  = "actual_vs_predicted_sample.png"
)

// Evaluation holds the test-set metrics of the persisted model.
// BaselineMSE is the test MSE of a least squares fit, or nil when the
// baseline is disabled or could not be fitted.
type Evaluation struct {
	MSE         float64  `json:"mse"`
	RMSE        float64  `json:"rmse"`
	MAE         float64  `json:"mae"`
	R2          float64  `json:"r2"`
	BaselineMSE *float64 `json:"baseline_mse,omitempty"`
}

// Result is everything a run produced.
type Result struct {
	RunID      string
	TrainRows  int
	TestRows   int
	BestParams model.Params
	BestScore  float64
	CVResults  *model_selection.CVResults
	Model      *ensemble.RandomForestRegressor
	Evaluation Evaluation
	Holdout    *report.Comparison
	Sample     *report.Comparison
	Artifacts  []string
}

// cvReport is the JSON document written to output.cv_results_path.
type cvReport struct {
	RunID      string                     `json:"run_id"`
	Scoring    string                     `json:"scoring"`
	Folds      int                        `json:"folds"`
	BestIndex  int                        `json:"best_index"`
	BestParams model.Params               `json:"best_params"`
	BestScore  float64                    `json:"best_score"`
	Evaluation Evaluation                 `json:"evaluation"`
	Results    *model_selection.CVResults `json:"cv_results"`
}

type runner struct {
	cfg     *config.Config
	logger  log.Logger
	out     io.Writer
	metrics *telemetry.Metrics
	result  *Result
}

// Run executes one full pipeline run. Console output (best parameters,
// MSE and the sample comparison table) goes to out; progress goes to logger.
func Run(ctx context.Context, cfg *config.Config, logger log.Logger, out io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	r := &runner{
		cfg:     cfg,
		logger:  logger.With(log.EstimatorIDKey, runID),
		out:     out,
		metrics: telemetry.New(runID),
		result:  &Result{RunID: runID},
	}
	r.logger.Info("Pipeline started")
	started := time.Now()

	full, err := timed(r, "load", r.load)
	if err != nil {
		return nil, err
	}
	r.metrics.SetRows("all", full.Rows())

	train, test, err := full.Split(cfg.Split.TestSize, cfg.Split.RandomSeed)
	if err != nil {
		return nil, errors.Wrap(err, "split dataset")
	}
	r.result.TrainRows, r.result.TestRows = train.Rows(), test.Rows()
	r.metrics.SetRows("train", train.Rows())
	r.metrics.SetRows("test", test.Rows())
	r.logger.Info("Split dataset",
		log.PhaseKey, log.PhasePreprocessing,
		"train_rows", train.Rows(),
		"test_rows", test.Rows(),
		log.RandomSeedKey, cfg.Split.RandomSeed)

	search, err := timed(r, "search", func() (*model_selection.GridSearchCV, error) { return r.tune(ctx, train) })
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Best Parameters: %v\n", map[string]interface{}(search.BestParams()))

	fitted, ok := search.BestEstimator().(*ensemble.RandomForestRegressor)
	if !ok {
		return nil, errors.NewValueError("pipeline.Run", fmt.Sprintf("unexpected best estimator %T", search.BestEstimator()))
	}
	persisted, err := timed(r, "persist", func() (*ensemble.RandomForestRegressor, error) { return r.persist(fitted) })
	if err != nil {
		return nil, err
	}
	r.result.Model = persisted

	if _, err := timed(r, "evaluate", func() (struct{}, error) { return struct{}{}, r.evaluate(persisted, test) }); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Mean Squared Error: %g\n", r.result.Evaluation.MSE)
	if cfg.Report.Baseline {
		r.baseline(train, test)
	}

	if _, err := timed(r, "report", func() (struct{}, error) { return struct{}{}, r.report(persisted, full) }); err != nil {
		return nil, err
	}

	if err := r.writeArtifacts(search); err != nil {
		return nil, err
	}
	r.logger.Info("Pipeline finished",
		log.MSEKey, r.result.Evaluation.MSE,
		log.DurationMsKey, time.Since(started).Milliseconds())
	return r.result, nil
}

// timed runs one phase and records its wall time.
func timed[T any](r *runner, phase string, fn func() (T, error)) (T, error) {
	t0 := time.Now()
	v, err := fn()
	r.metrics.SetPhaseDuration(phase, time.Since(t0).Seconds())
	if err != nil {
		r.logger.Error("Pipeline phase failed", err, log.PhaseKey, phase)
	}
	return v, err
}

func (r *runner) load() (*dataset.Dataset, error) {
	if path := r.cfg.Data.TablePath; path != "" {
		ds, err := dataset.LoadTable(path)
		if err != nil {
			return nil, errors.Wrap(err, "load table")
		}
		r.logger.Info("Loaded feature table",
			log.OperationKey, log.OperationLoad,
			log.PathKey, path,
			log.SamplesKey, ds.Rows(),
			log.FeaturesKey, ds.NFeatures())
		return ds, nil
	}

	p := dataset.NewTMDBPreprocessor(r.cfg.Data.MoviesPath, r.cfg.Data.CreditsPath, r.cfg.Data.ReferenceYear)
	if err := p.Load(); err != nil {
		return nil, errors.Wrap(err, "load TMDB files")
	}
	ds, err := p.Preprocess()
	if err != nil {
		return nil, errors.Wrap(err, "preprocess TMDB data")
	}
	return ds, nil
}

func (r *runner) tune(ctx context.Context, train *dataset.Dataset) (*model_selection.GridSearchCV, error) {
	sc := r.cfg.Search
	grid := model_selection.ParamGrid(sc.Grid.ParamGrid())
	r.metrics.SetCandidates(grid.Len())

	// The search already runs one job per worker, so trees fit sequentially.
	base := ensemble.NewRandomForestRegressor().
		WithRandomState(sc.RandomState).
		WithNJobs(1)

	search := model_selection.NewGridSearchCV(base, grid,
		model_selection.WithCV(sc.Folds),
		model_selection.WithScoring(sc.Scoring),
		model_selection.WithNJobs(sc.NJobs),
		model_selection.WithLogger(r.logger.With(log.ComponentKey, "model_selection.grid_search")),
		model_selection.WithFitCallback(r.metrics.ObserveFit),
	)
	if err := search.FitContext(ctx, train.X(), train.Y()); err != nil {
		return nil, errors.Wrap(err, "tune hyperparameters")
	}

	r.result.BestParams = search.BestParams()
	r.result.BestScore = search.BestScore()
	r.result.CVResults = search.CVResults()
	r.metrics.SetBestScore(search.BestScore())
	return search, nil
}

// persist saves the fitted model and reads it back; the rest of the run
// uses the reloaded copy.
func (r *runner) persist(fitted *ensemble.RandomForestRegressor) (*ensemble.RandomForestRegressor, error) {
	path := r.cfg.Output.ModelPath
	if err := model.SaveModel(fitted, path); err != nil {
		return nil, err
	}
	loaded := &ensemble.RandomForestRegressor{}
	if err := model.LoadModel(loaded, path); err != nil {
		return nil, err
	}
	r.result.Artifacts = append(r.result.Artifacts, path)
	r.logger.Info("Saved model",
		log.OperationKey, log.OperationSave,
		log.PathKey, path,
		log.ModelNameKey, "RandomForestRegressor",
		"trees", len(loaded.Trees))
	return loaded, nil
}

func (r *runner) evaluate(m *ensemble.RandomForestRegressor, test *dataset.Dataset) error {
	holdout, err := report.Compare(m, test)
	if err != nil {
		return errors.Wrap(err, "predict test set")
	}
	r.result.Holdout = holdout

	actual := mat.NewVecDense(len(holdout.Rows), holdout.Actual())
	predicted := mat.NewVecDense(len(holdout.Rows), holdout.Predicted())

	var ev Evaluation
	if ev.MSE, err = metrics.MSE(actual, predicted); err != nil {
		return err
	}
	if ev.RMSE, err = metrics.RMSE(actual, predicted); err != nil {
		return err
	}
	if ev.MAE, err = metrics.MAE(actual, predicted); err != nil {
		return err
	}
	if ev.R2, err = metrics.R2Score(actual, predicted); err != nil {
		return err
	}
	r.result.Evaluation = ev

	r.metrics.SetEvaluation("mse", ev.MSE)
	r.metrics.SetEvaluation("rmse", ev.RMSE)
	r.metrics.SetEvaluation("mae", ev.MAE)
	r.metrics.SetEvaluation("r2", ev.R2)
	r.logger.Info("Evaluated model",
		log.PhaseKey, log.PhaseTesting,
		log.SamplesKey, test.Rows(),
		log.MSEKey, ev.MSE,
		log.RMSEKey, ev.RMSE,
		log.MAEKey, ev.MAE,
		log.R2ScoreKey, ev.R2)

	if dir := r.cfg.Output.PlotDir; dir != "" {
		path := filepath.Join(dir, HoldoutPlotFile)
		opts := report.DefaultScatterOptions()
		if err := report.SavePredictionScatter(path, "Actual vs Predicted Revenue", holdout.Actual(), holdout.Predicted(), opts); err != nil {
			return err
		}
		r.result.Artifacts = append(r.result.Artifacts, path)
	}
	return nil
}

// baseline fits a least squares model on the training set and records its
// test MSE. A failed fit, e.g. on collinear features, is logged and skipped.
func (r *runner) baseline(train, test *dataset.Dataset) {
	lr := linear.NewLinearRegression()
	if err := lr.Fit(train.X(), train.Y()); err != nil {
		r.logger.Warn("Skipping linear baseline", log.ErrAttrKey, err)
		return
	}
	pred, err := lr.Predict(test.X())
	if err != nil {
		r.logger.Warn("Skipping linear baseline", log.ErrAttrKey, err)
		return
	}
	mse, err := metrics.MSEMatrix(test.Y(), pred)
	if err != nil {
		r.logger.Warn("Skipping linear baseline", log.ErrAttrKey, err)
		return
	}

	r.result.Evaluation.BaselineMSE = &mse
	r.metrics.SetEvaluation("baseline_mse", mse)
	r.logger.Info("Evaluated linear baseline",
		log.PhaseKey, log.PhaseTesting,
		log.ModelNameKey, "LinearRegression",
		log.MSEKey, mse)
	fmt.Fprintf(r.out, "Baseline (linear regression) Mean Squared Error: %g\n", mse)
}

// report predicts a random sample of the full dataset and prints the
// comparison table.
func (r *runner) report(m *ensemble.RandomForestRegressor, full *dataset.Dataset) error {
	seed := r.cfg.Report.SampleSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sample, err := full.Sample(r.cfg.Report.SampleSize, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		return err
	}
	cmp, err := report.Compare(m, sample)
	if err != nil {
		return errors.Wrap(err, "predict sample")
	}
	r.result.Sample = cmp

	fmt.Fprintf(r.out, "\nComparison of Actual vs Predicted Revenue for Random %d Movies:\n\n", sample.Rows())
	if err := cmp.WriteTable(r.out); err != nil {
		return err
	}
	r.logger.Debug("Reported sample",
		log.PhaseKey, log.PhaseReporting,
		log.SamplesKey, sample.Rows(),
		log.RandomSeedKey, seed)

	if dir := r.cfg.Output.PlotDir; dir != "" {
		path := filepath.Join(dir, SamplePlotFile)
		opts := report.DefaultScatterOptions()
		opts.PointColor = color.NRGBA{G: 128, A: 128}
		opts.PointLabel = "Predicted vs Actual (Random Sample)"
		if err := report.SavePredictionScatter(path, "Actual vs Predicted Revenue (Random Sample)", cmp.Actual(), cmp.Predicted(), opts); err != nil {
			return err
		}
		r.result.Artifacts = append(r.result.Artifacts, path)
	}
	return nil
}

func (r *runner) writeArtifacts(search *model_selection.GridSearchCV) error {
	if path := r.cfg.Output.CVResultsPath; path != "" {
		doc := cvReport{
			RunID:      r.result.RunID,
			Scoring:    r.cfg.Search.Scoring,
			Folds:      r.cfg.Search.Folds,
			BestIndex:  search.BestIndex(),
			BestParams: search.BestParams(),
			BestScore:  search.BestScore(),
			Evaluation: r.result.Evaluation,
			Results:    search.CVResults(),
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode cv results")
		}
		if err := writeFile(path, data); err != nil {
			return err
		}
		r.result.Artifacts = append(r.result.Artifacts, path)
	}

	if path := r.cfg.Output.MetricsTextfile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			return err
		}
		r.result.Artifacts = append(r.result.Artifacts, path)
	}

	r.logger.Debug("Wrote artifacts", "artifacts", r.result.Artifacts)
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
