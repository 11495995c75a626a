package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/dataset"
	"github.com/YuminosukeSato/boxoffice/internal/config"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/pkg/log"
	"github.com/YuminosukeSato/boxoffice/sklearn/ensemble"
)

// writeTable writes n rows of budget, runtime and revenue = 1000*budget + runtime.
func writeTable(t *testing.T, dir string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	var b strings.Builder
	b.WriteString("budget,runtime,revenue\n")
	for i := 0; i < n; i++ {
		budget := float64(rng.IntN(1000))
		runtime := float64(80 + rng.IntN(80))
		fmt.Fprintf(&b, "%g,%g,%g\n", budget, runtime, 1000*budget+runtime)
	}
	path := filepath.Join(dir, "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.TablePath = writeTable(t, dir, 60)
	cfg.Search.Folds = 3
	cfg.Search.NJobs = 2
	cfg.Search.Grid = config.GridConfig{
		NEstimators:     []int{5},
		MaxDepth:        []int{0, 2},
		MinSamplesSplit: []int{2},
		MinSamplesLeaf:  []int{1},
	}
	cfg.Output.ModelPath = filepath.Join(dir, "out", "model.gob")
	cfg.Output.PlotDir = filepath.Join(dir, "plots")
	cfg.Output.CVResultsPath = filepath.Join(dir, "out", "cv_results.json")
	cfg.Output.MetricsTextfile = filepath.Join(dir, "out", "boxoffice.prom")
	cfg.Report.SampleSize = 10
	cfg.Report.SampleSeed = 3
	return cfg
}

func quietLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelError)
	return l
}

func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("fits a small grid of forests")
	}
	cfg := testConfig(t)
	var out bytes.Buffer

	res, err := Run(context.Background(), cfg, quietLogger(), &out)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 48, res.TrainRows)
	assert.Equal(t, 12, res.TestRows)
	// unlimited depth tracks the linear target better than depth 2
	assert.Equal(t, 0, res.BestParams["max_depth"])
	assert.Len(t, res.CVResults.MeanTestScore, 2)
	assert.Greater(t, res.Evaluation.R2, 0.5)
	assert.GreaterOrEqual(t, res.Evaluation.MSE, 0.0)
	assert.InDelta(t, res.Evaluation.RMSE*res.Evaluation.RMSE, res.Evaluation.MSE, 1e-6*res.Evaluation.MSE+1e-9)
	require.Len(t, res.Sample.Rows, 10)

	console := out.String()
	assert.Contains(t, console, "Best Parameters: map[max_depth:0 min_samples_leaf:1 min_samples_split:2 n_estimators:5]")
	assert.Contains(t, console, "Mean Squared Error: ")
	assert.Contains(t, console, "Baseline (linear regression) Mean Squared Error: ")
	// revenue is exactly linear in the features
	require.NotNil(t, res.Evaluation.BaselineMSE)
	assert.Less(t, *res.Evaluation.BaselineMSE, 1.0)
	assert.Less(t, *res.Evaluation.BaselineMSE, res.Evaluation.MSE)
	assert.Contains(t, console, "Comparison of Actual vs Predicted Revenue for Random 10 Movies:")
	assert.Contains(t, console, "Actual Revenue")

	for _, path := range []string{
		cfg.Output.ModelPath,
		filepath.Join(cfg.Output.PlotDir, HoldoutPlotFile),
		filepath.Join(cfg.Output.PlotDir, SamplePlotFile),
		cfg.Output.CVResultsPath,
		cfg.Output.MetricsTextfile,
	} {
		assert.FileExists(t, path)
		assert.Contains(t, res.Artifacts, path)
	}

	// the saved model predicts exactly like the one the run evaluated
	loaded := &ensemble.RandomForestRegressor{}
	require.NoError(t, model.LoadModel(loaded, cfg.Output.ModelPath))
	table, err := dataset.LoadTable(cfg.Data.TablePath)
	require.NoError(t, err)
	idx := make([]int, len(res.Holdout.Rows))
	for i, row := range res.Holdout.Rows {
		idx[i] = row.Index
	}
	test, err := table.Subset(idx)
	require.NoError(t, err)
	pred, err := loaded.Predict(test.X())
	require.NoError(t, err)
	for i, row := range res.Holdout.Rows {
		assert.Equal(t, row.Predicted, pred.At(i, 0))
		assert.Equal(t, row.Actual, test.Y().At(i, 0))
	}

	var doc struct {
		RunID      string                 `json:"run_id"`
		BestIndex  int                    `json:"best_index"`
		BestParams map[string]interface{} `json:"best_params"`
		Evaluation Evaluation             `json:"evaluation"`
	}
	data, err := os.ReadFile(cfg.Output.CVResultsPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, res.RunID, doc.RunID)
	assert.Equal(t, 0, doc.BestIndex)
	assert.Equal(t, res.Evaluation.MSE, doc.Evaluation.MSE)

	prom, err := os.ReadFile(cfg.Output.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "boxoffice_search_fits_total")
	assert.Contains(t, string(prom), `boxoffice_search_candidates{run_id="`+res.RunID+`"} 2`)
}

func TestRun_Failures(t *testing.T) {
	t.Run("missing table", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Data.TablePath = filepath.Join(t.TempDir(), "missing.csv")
		_, err := Run(context.Background(), cfg, quietLogger(), &bytes.Buffer{})
		assert.Error(t, err)
		assert.NoFileExists(t, cfg.Output.ModelPath)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Split.TestSize = 1.5
		_, err := Run(context.Background(), cfg, quietLogger(), &bytes.Buffer{})
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cfg := testConfig(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, cfg, quietLogger(), &bytes.Buffer{})
		assert.True(t, errors.Is(err, context.Canceled))
		assert.NoFileExists(t, cfg.Output.ModelPath)
	})

	t.Run("too few rows for the folds", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Data.TablePath = writeTable(t, t.TempDir(), 4)
		cfg.Search.Folds = 5
		_, err := Run(context.Background(), cfg, quietLogger(), &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestRun_SkipsSingularBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("fits a small grid of forests")
	}
	cfg := testConfig(t)

	rng := rand.New(rand.NewPCG(5, 6))
	var b strings.Builder
	b.WriteString("budget,budget_copy,runtime,revenue\n")
	for i := 0; i < 60; i++ {
		budget := float64(rng.IntN(1000))
		runtime := float64(80 + rng.IntN(80))
		fmt.Fprintf(&b, "%g,%g,%g,%g\n", budget, budget, runtime, 1000*budget+runtime)
	}
	cfg.Data.TablePath = filepath.Join(t.TempDir(), "duplicated.csv")
	require.NoError(t, os.WriteFile(cfg.Data.TablePath, []byte(b.String()), 0o644))

	logger, _ := log.NewTestLogger(log.LevelWarn)
	var out bytes.Buffer
	res, err := Run(context.Background(), cfg, logger, &out)
	require.NoError(t, err)

	assert.Nil(t, res.Evaluation.BaselineMSE)
	assert.NotContains(t, out.String(), "Baseline (linear regression)")
	assert.Contains(t, out.String(), "Mean Squared Error:")
	assert.True(t, logger.ContainsMessage("Skipping linear baseline"))
	assert.True(t, logger.ContainsMessage("rank deficient design matrix"))
}
