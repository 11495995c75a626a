package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/YuminosukeSato/boxoffice/pkg/log"
)

// TMDBFeatureNames is the fixed feature order produced by the TMDB preprocessor.
var TMDBFeatureNames = []string{
	"budget", "popularity", "runtime", "vote_average", "vote_count", "age", "cast_size", "crew_size",
}

// TMDBTargetName names the target column.
const TMDBTargetName = "revenue"

// Movie is one cleaned movie record.
type Movie struct {
	ID          int64
	Title       string
	Budget      float64
	Popularity  float64
	Runtime     float64
	VoteAverage float64
	VoteCount   float64
	Age         float64
	CastSize    float64
	CrewSize    float64
	Revenue     float64
}

// Features returns the feature values in TMDBFeatureNames order.
func (m Movie) Features() []float64 {
	return []float64{
		m.Budget, m.Popularity, m.Runtime, m.VoteAverage, m.VoteCount, m.Age, m.CastSize, m.CrewSize,
	}
}

type credits struct {
	cast, crew int
}

// TMDBPreprocessor turns the TMDB 5000 movies and credits CSV files into a
// Dataset.
type TMDBPreprocessor struct {
	moviesPath    string
	creditsPath   string
	referenceYear int

	movies  *csvTable
	credits *csvTable
	logger  log.Logger
}

// NewTMDBPreprocessor creates a preprocessor. referenceYear is the year
// movie ages are measured from.
func NewTMDBPreprocessor(moviesPath, creditsPath string, referenceYear int) *TMDBPreprocessor {
	return &TMDBPreprocessor{
		moviesPath:    moviesPath,
		creditsPath:   creditsPath,
		referenceYear: referenceYear,
		logger:        log.GetLoggerWithName("dataset.tmdb"),
	}
}

// Load reads both CSV files into memory.
func (p *TMDBPreprocessor) Load() error {
	movies, err := readCSV(p.moviesPath)
	if err != nil {
		return err
	}
	credits, err := readCSV(p.creditsPath)
	if err != nil {
		return err
	}
	p.movies, p.credits = movies, credits
	p.logger.Debug("Loaded TMDB files",
		log.OperationKey, log.OperationLoad,
		"movies", len(movies.records),
		"credits", len(credits.records))
	return nil
}

var movieColumns = []string{
	"id", "title", "budget", "popularity", "runtime", "vote_average", "vote_count", "release_date", "revenue",
}

// Movies cleans the loaded rows. Rows with a zero or missing budget or
// revenue, a missing runtime, release date or other feature, or without a
// credits entry are dropped and reported with a DroppedRowsWarning per
// reason. A present value that cannot be parsed fails the whole call.
func (p *TMDBPreprocessor) Movies() ([]Movie, error) {
	if p.movies == nil || p.credits == nil {
		return nil, errors.NewValueError("TMDBPreprocessor.Preprocess", "Load must be called first")
	}

	cr, err := p.parseCredits()
	if err != nil {
		return nil, err
	}
	cols, err := p.movies.require(movieColumns...)
	if err != nil {
		return nil, err
	}

	dropped := map[string]int{}
	out := make([]Movie, 0, len(p.movies.records))
	path := p.movies.path

	for r, rec := range p.movies.records {
		row := r + 1
		cell := func(name string) string { return strings.TrimSpace(rec[cols[name]]) }

		idText := cell("id")
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			return nil, errors.NewParseError(path, row, "id", idText, err)
		}

		var num [6]float64
		missing := ""
		for k, name := range []string{"budget", "revenue", "runtime", "popularity", "vote_average", "vote_count"} {
			text := cell(name)
			if text == "" {
				if missing == "" {
					missing = "missing " + name
				}
				continue
			}
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errors.NewParseError(path, row, name, text, err)
			}
			num[k] = v
		}

		dateText := cell("release_date")
		var released time.Time
		if dateText != "" {
			released, err = time.Parse("2006-01-02", dateText)
			if err != nil {
				return nil, errors.NewParseError(path, row, "release_date", dateText, err)
			}
		}

		c, hasCredits := cr[id]
		switch {
		case missing != "":
			dropped[missing]++
			continue
		case num[0] == 0:
			dropped["zero budget"]++
			continue
		case num[1] == 0:
			dropped["zero revenue"]++
			continue
		case dateText == "":
			dropped["missing release_date"]++
			continue
		case !hasCredits:
			dropped["no credits entry"]++
			continue
		}

		out = append(out, Movie{
			ID:          id,
			Title:       cell("title"),
			Budget:      num[0],
			Revenue:     num[1],
			Runtime:     num[2],
			Popularity:  num[3],
			VoteAverage: num[4],
			VoteCount:   num[5],
			Age:         float64(p.referenceYear - released.Year()),
			CastSize:    float64(c.cast),
			CrewSize:    float64(c.crew),
		})
	}

	reasons := make([]string, 0, len(dropped))
	for reason := range dropped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		errors.Warn(errors.NewDroppedRowsWarning(path, dropped[reason], reason))
	}
	return out, nil
}

// Preprocess cleans the loaded rows and builds the Dataset. Row labels are
// movie titles.
func (p *TMDBPreprocessor) Preprocess() (*Dataset, error) {
	movies, err := p.Movies()
	if err != nil {
		return nil, err
	}
	if len(movies) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "%s: no rows left after cleaning", p.moviesPath)
	}

	rows := make([][]float64, len(movies))
	targets := make([]float64, len(movies))
	labels := make([]string, len(movies))
	for i, m := range movies {
		rows[i] = m.Features()
		targets[i] = m.Revenue
		labels[i] = m.Title
	}

	ds, err := New(TMDBFeatureNames, rows, targets, labels)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Preprocessed TMDB data",
		log.PhaseKey, log.PhasePreprocessing,
		log.SamplesKey, ds.Rows(),
		log.FeaturesKey, ds.NFeatures(),
		"input_rows", len(p.movies.records))
	return ds, nil
}

// parseCredits maps movie_id to cast and crew sizes.
func (p *TMDBPreprocessor) parseCredits() (map[int64]credits, error) {
	cols, err := p.credits.require("movie_id", "cast", "crew")
	if err != nil {
		return nil, err
	}
	path := p.credits.path
	out := make(map[int64]credits, len(p.credits.records))
	for r, rec := range p.credits.records {
		row := r + 1
		idText := strings.TrimSpace(rec[cols["movie_id"]])
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			return nil, errors.NewParseError(path, row, "movie_id", idText, err)
		}
		cast, err := countMembers(rec[cols["cast"]])
		if err != nil {
			return nil, errors.NewParseError(path, row, "cast", abbreviate(rec[cols["cast"]]), err)
		}
		crew, err := countMembers(rec[cols["crew"]])
		if err != nil {
			return nil, errors.NewParseError(path, row, "crew", abbreviate(rec[cols["crew"]]), err)
		}
		out[id] = credits{cast: cast, crew: crew}
	}
	return out, nil
}

// countMembers returns the length of a JSON array. An empty cell counts as
// an empty array.
func countMembers(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	var members []json.RawMessage
	if err := json.Unmarshal([]byte(text), &members); err != nil {
		return 0, err
	}
	return len(members), nil
}

func abbreviate(s string) string {
	const limit = 40
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("%s...", s[:limit])
}
