// Package config loads the pipeline configuration.
//
// Precedence is environment > config file > defaults:
//
//  1. defaults from defaultConfig()
//  2. YAML file named by CONFIG_PATH, or the first of DefaultConfigPaths that exists
//  3. BOXOFFICE_* environment variables; "__" separates levels, so
//     BOXOFFICE_SEARCH__GRID__N_ESTIMATORS=50,100 sets search.grid.n_estimators
package config

import (
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"boxoffice.yaml",
	"boxoffice.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "BOXOFFICE_"

// Config is the full pipeline configuration.
type Config struct {
	Data    DataConfig    `koanf:"data"`
	Split   SplitConfig   `koanf:"split"`
	Search  SearchConfig  `koanf:"search"`
	Output  OutputConfig  `koanf:"output"`
	Report  ReportConfig  `koanf:"report"`
	Logging LoggingConfig `koanf:"logging"`
}

// DataConfig selects the input. When TablePath is set the numeric table is
// used and the TMDB files are ignored.
type DataConfig struct {
	MoviesPath    string `koanf:"movies_path" validate:"required_without=TablePath"`
	CreditsPath   string `koanf:"credits_path" validate:"required_without=TablePath"`
	ReferenceYear int    `koanf:"reference_year" validate:"gte=1900,lte=3000"`
	TablePath     string `koanf:"table_path"`
}

// SplitConfig controls the train/test split.
type SplitConfig struct {
	TestSize   float64 `koanf:"test_size" validate:"gt=0,lt=1"`
	RandomSeed uint64  `koanf:"random_seed"`
}

// SearchConfig controls the grid search.
type SearchConfig struct {
	Folds       int        `koanf:"folds" validate:"gte=2"`
	NJobs       int        `koanf:"n_jobs"`
	Scoring     string     `koanf:"scoring" validate:"oneof=neg_mean_squared_error neg_mean_absolute_error r2"`
	RandomState uint64     `koanf:"random_state"`
	Grid        GridConfig `koanf:"grid"`
}

// GridConfig lists the random forest values to try. A max_depth of 0
// means unlimited depth.
type GridConfig struct {
	NEstimators     []int `koanf:"n_estimators" validate:"min=1,dive,gte=1"`
	MaxDepth        []int `koanf:"max_depth" validate:"min=1,dive,gte=0"`
	MinSamplesSplit []int `koanf:"min_samples_split" validate:"min=1,dive,gte=2"`
	MinSamplesLeaf  []int `koanf:"min_samples_leaf" validate:"min=1,dive,gte=1"`
}

// ParamGrid converts the grid to parameter name → candidate values.
func (g GridConfig) ParamGrid() map[string][]interface{} {
	conv := func(xs []int) []interface{} {
		out := make([]interface{}, len(xs))
		for i, x := range xs {
			out[i] = x
		}
		return out
	}
	return map[string][]interface{}{
		"n_estimators":      conv(g.NEstimators),
		"max_depth":         conv(g.MaxDepth),
		"min_samples_split": conv(g.MinSamplesSplit),
		"min_samples_leaf":  conv(g.MinSamplesLeaf),
	}
}

// OutputConfig names the artifacts. Empty optional paths disable the artifact.
type OutputConfig struct {
	ModelPath       string `koanf:"model_path" validate:"required"`
	PlotDir         string `koanf:"plot_dir"`
	CVResultsPath   string `koanf:"cv_results_path"`
	MetricsTextfile string `koanf:"metrics_textfile"`
}

// ReportConfig controls the random sample comparison. A SampleSeed of 0
// seeds the sampler from the clock. Baseline also reports the test MSE of
// a least squares fit next to the forest.
type ReportConfig struct {
	SampleSize int    `koanf:"sample_size" validate:"gte=1"`
	SampleSeed uint64 `koanf:"sample_seed"`
	Baseline   bool   `koanf:"baseline"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json cloud"`
}

func defaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			MoviesPath:    "tmdb_5000_movies.csv",
			CreditsPath:   "tmdb_5000_credits.csv",
			ReferenceYear: 2024,
		},
		Split: SplitConfig{
			TestSize:   0.2,
			RandomSeed: 0,
		},
		Search: SearchConfig{
			Folds:   5,
			NJobs:   -1, // all cores
			Scoring: "neg_mean_squared_error",
			Grid: GridConfig{
				NEstimators:     []int{50, 100, 200},
				MaxDepth:        []int{0, 10, 20, 30},
				MinSamplesSplit: []int{2, 5, 10},
				MinSamplesLeaf:  []int{1, 2, 4},
			},
		},
		Output: OutputConfig{
			ModelPath:     "randomforest_model.gob",
			PlotDir:       "plots",
			CVResultsPath: "cv_results.json",
		},
		Report: ReportConfig{
			SampleSize: 20,
			Baseline:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, the config file found via
// CONFIG_PATH or DefaultConfigPaths, and the environment.
func Load() (*Config, error) {
	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file. An empty path skips the
// file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH when set, otherwise the first existing
// default path, otherwise "".
func findConfigFile() (string, error) {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", errors.Wrapf(err, "%s=%s", ConfigPathEnvVar, p)
		}
		return p, nil
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envTransformFunc maps BOXOFFICE_SEARCH__N_JOBS to search.n_jobs.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// sliceConfigPaths are parsed from comma-separated strings when they come
// from the environment.
var sliceConfigPaths = []string{
	"search.grid.n_estimators",
	"search.grid.max_depth",
	"search.grid.min_samples_split",
	"search.grid.min_samples_leaf",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return errors.Wrapf(err, "set %s", path)
		}
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report koanf paths rather than Go field names
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the configuration and returns a ValidationError for the
// first offending field.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Wrap(err, "validate configuration")
	}
	fe := fieldErrs[0]
	reason := "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	return errors.NewValidationError(field, reason, fe.Value())
}
