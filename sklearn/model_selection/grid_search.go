package model_selection

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/core/parallel"
	"github.com/YuminosukeSato/boxoffice/metrics"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/pkg/log"
)

// FitEvent describes one finished candidate/fold job.
type FitEvent struct {
	Candidate int
	Fold      int
	Params    model.Params
	Score     float64
	Duration  time.Duration
}

// FitCallback is called once per finished job. Jobs run concurrently, so
// callbacks must be safe for concurrent use.
type FitCallback func(FitEvent)

// CVResults holds per-candidate cross-validation results in grid order.
type CVResults struct {
	Params        []model.Params `json:"params"`
	SplitScores   [][]float64    `json:"split_test_scores"`
	MeanTestScore []float64      `json:"mean_test_score"`
	StdTestScore  []float64      `json:"std_test_score"`
	RankTestScore []int          `json:"rank_test_score"`
	MeanFitTime   []float64      `json:"mean_fit_time"` // seconds
}

// GridSearchCV exhaustively evaluates every candidate of a parameter grid
// with k-fold cross-validation and refits the best one.
type GridSearchCV struct {
	estimator model.SearchableEstimator
	grid      ParamGrid
	cv        int
	scoring   string
	nJobs     int
	refit     bool
	logger    log.Logger
	onFit     FitCallback

	bestEstimator model.SearchableEstimator
	bestParams    model.Params
	bestScore     float64
	bestIndex     int
	cvResults     *CVResults
}

// Option configures a GridSearchCV.
type Option func(*GridSearchCV)

// WithCV sets the number of folds.
func WithCV(k int) Option {
	return func(g *GridSearchCV) { g.cv = k }
}

// WithScoring selects a scorer registered in the metrics package.
func WithScoring(name string) Option {
	return func(g *GridSearchCV) { g.scoring = name }
}

// WithNJobs bounds the number of concurrent jobs; <= 0 uses all cores.
func WithNJobs(n int) Option {
	return func(g *GridSearchCV) { g.nJobs = n }
}

// WithRefit controls whether the best candidate is refit on the full data.
func WithRefit(refit bool) Option {
	return func(g *GridSearchCV) { g.refit = refit }
}

// WithLogger sets the logger used for progress messages.
func WithLogger(l log.Logger) Option {
	return func(g *GridSearchCV) { g.logger = l }
}

// WithFitCallback registers a callback invoked after every job.
func WithFitCallback(fn FitCallback) Option {
	return func(g *GridSearchCV) { g.onFit = fn }
}

// NewGridSearchCV creates a search over grid for estimator. The estimator
// itself is never fitted; every job works on a clone.
func NewGridSearchCV(estimator model.SearchableEstimator, grid ParamGrid, opts ...Option) *GridSearchCV {
	g := &GridSearchCV{
		estimator: estimator,
		grid:      grid,
		cv:        5,
		scoring:   "neg_mean_squared_error",
		refit:     true,
		bestIndex: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.GetLoggerWithName("model_selection.grid_search")
	}
	return g
}

// Fit runs the search with a background context.
func (g *GridSearchCV) Fit(X, y mat.Matrix) error {
	return g.FitContext(context.Background(), X, y)
}

type foldData struct {
	XTrain, yTrain, XTest, yTest *mat.Dense
}

// FitContext runs every candidate × fold job on a bounded worker pool.
// The first failing job cancels the remaining ones and fails the search.
func (g *GridSearchCV) FitContext(ctx context.Context, X, y mat.Matrix) error {
	scorer, err := metrics.GetScorer(g.scoring)
	if err != nil {
		return err
	}
	if g.grid.Len() == 0 {
		return errors.NewValueError("GridSearchCV.Fit", "parameter grid has no candidates")
	}

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("GridSearchCV.Fit", "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError("GridSearchCV.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("GridSearchCV.Fit", 1, yCols, 1)
	}
	if err := errors.CheckMatrix("GridSearchCV.Fit", X, rows, cols, 0); err != nil {
		return err
	}
	if err := errors.CheckMatrix("GridSearchCV.Fit", y, yRows, 1, 0); err != nil {
		return err
	}

	kf := NewKFold(g.cv, false, 0)
	folds, err := kf.Split(rows)
	if err != nil {
		return err
	}
	data := make([]foldData, len(folds))
	for i, f := range folds {
		data[i] = foldData{
			XTrain: TakeRows(X, f.TrainIndices),
			yTrain: TakeRows(y, f.TrainIndices),
			XTest:  TakeRows(X, f.TestIndices),
			yTest:  TakeRows(y, f.TestIndices),
		}
	}

	candidates := g.grid.Candidates()
	nFolds := kf.GetNSplits()
	scores := make([][]float64, len(candidates))
	fitTimes := make([][]float64, len(candidates))
	for c := range candidates {
		scores[c] = make([]float64, nFolds)
		fitTimes[c] = make([]float64, nFolds)
	}

	workers := parallel.Workers(g.nJobs)
	g.logger.Info("Starting grid search",
		log.OperationKey, log.OperationSearch,
		log.CandidatesKey, len(candidates),
		log.FoldsKey, nFolds,
		log.WorkersKey, workers,
		log.SamplesKey, rows,
		log.FeaturesKey, cols)
	started := time.Now()

	err = parallel.ForEach(ctx, len(candidates)*nFolds, workers, func(ctx context.Context, j int) error {
		c, f := j/nFolds, j%nFolds
		est, err := g.newCandidate(candidates[c])
		if err != nil {
			return errors.Wrapf(err, "candidate %d", c)
		}

		fd := data[f]
		t0 := time.Now()
		if err := est.Fit(fd.XTrain, fd.yTrain); err != nil {
			return errors.Wrapf(err, "candidate %d fold %d: fit", c, f)
		}
		elapsed := time.Since(t0)

		pred, err := est.Predict(fd.XTest)
		if err != nil {
			return errors.Wrapf(err, "candidate %d fold %d: predict", c, f)
		}
		score, err := scorer(fd.yTest, pred)
		if err != nil {
			return errors.Wrapf(err, "candidate %d fold %d: score", c, f)
		}
		if err := errors.CheckScalar("GridSearchCV.score", score, c); err != nil {
			return err
		}

		scores[c][f] = score
		fitTimes[c][f] = elapsed.Seconds()

		g.logger.Debug("Fold scored",
			log.CandidateKey, c,
			log.FoldKey, f,
			log.ScoreKey, score,
			log.DurationMsKey, elapsed.Milliseconds())
		if g.onFit != nil {
			g.onFit(FitEvent{Candidate: c, Fold: f, Params: candidates[c], Score: score, Duration: elapsed})
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "grid search")
	}

	g.cvResults = summarize(candidates, scores, fitTimes)
	g.bestIndex = bestCandidate(g.cvResults.MeanTestScore)
	g.bestParams = candidates[g.bestIndex]
	g.bestScore = g.cvResults.MeanTestScore[g.bestIndex]

	g.logger.Info("Grid search finished",
		log.OperationKey, log.OperationSearch,
		log.HyperParamsKey, map[string]interface{}(g.bestParams),
		log.ScoreKey, g.bestScore,
		log.DurationMsKey, time.Since(started).Milliseconds())

	g.bestEstimator = nil
	if !g.refit {
		return nil
	}
	best, err := g.newCandidate(g.bestParams)
	if err != nil {
		return err
	}
	if err := best.Fit(X, y); err != nil {
		return errors.Wrap(err, "refit best estimator")
	}
	g.bestEstimator = best
	return nil
}

func (g *GridSearchCV) newCandidate(params model.Params) (model.SearchableEstimator, error) {
	est, ok := g.estimator.Clone().(model.SearchableEstimator)
	if !ok {
		return nil, errors.NewValueError("GridSearchCV", fmt.Sprintf("%T.Clone does not return an estimator", g.estimator))
	}
	if err := est.SetParams(params); err != nil {
		return nil, err
	}
	return est, nil
}

// bestCandidate returns the index of the maximal score. Ties go to the
// lowest index.
func bestCandidate(mean []float64) int {
	best := 0
	for i := 1; i < len(mean); i++ {
		if mean[i] > mean[best] {
			best = i
		}
	}
	return best
}

func summarize(candidates []model.Params, scores, fitTimes [][]float64) *CVResults {
	n := len(candidates)
	res := &CVResults{
		Params:        candidates,
		SplitScores:   scores,
		MeanTestScore: make([]float64, n),
		StdTestScore:  make([]float64, n),
		RankTestScore: make([]int, n),
		MeanFitTime:   make([]float64, n),
	}
	for c := range candidates {
		res.MeanTestScore[c], res.StdTestScore[c] = stat.PopMeanStdDev(scores[c], nil)
		res.MeanFitTime[c] = stat.Mean(fitTimes[c], nil)
	}
	// rank 1 is best; equal scores share the lowest rank
	for c := range candidates {
		rank := 1
		for o := range candidates {
			if res.MeanTestScore[o] > res.MeanTestScore[c] {
				rank++
			}
		}
		res.RankTestScore[c] = rank
	}
	return res
}

// BestEstimator returns the refit best estimator, or nil before Fit or
// when refit is disabled.
func (g *GridSearchCV) BestEstimator() model.SearchableEstimator { return g.bestEstimator }

// BestParams returns the parameters of the best candidate.
func (g *GridSearchCV) BestParams() model.Params { return g.bestParams }

// BestScore returns the mean cross-validated score of the best candidate.
func (g *GridSearchCV) BestScore() float64 { return g.bestScore }

// BestIndex returns the grid index of the best candidate, -1 before Fit.
func (g *GridSearchCV) BestIndex() int { return g.bestIndex }

// CVResults returns the per-candidate results of the last search.
func (g *GridSearchCV) CVResults() *CVResults { return g.cvResults }

// Predict delegates to the refit best estimator.
func (g *GridSearchCV) Predict(X mat.Matrix) (mat.Matrix, error) {
	if g.bestEstimator == nil {
		return nil, errors.NewNotFittedError("GridSearchCV", "Predict")
	}
	return g.bestEstimator.Predict(X)
}
