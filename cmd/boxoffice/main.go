// Command boxoffice trains a random forest revenue model on the TMDB movie
// data, tunes it with a cross-validated grid search, saves it and reports
// holdout error, a sample comparison table and two scatter plots.
//
// Configuration comes from boxoffice.yaml (or CONFIG_PATH) and BOXOFFICE_*
// environment variables; see internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/boxoffice/internal/config"
	"github.com/YuminosukeSato/boxoffice/internal/pipeline"
	"github.com/YuminosukeSato/boxoffice/pkg/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "boxoffice: load config: %+v\n", err)
		return 1
	}

	logger, err := log.Setup(log.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boxoffice: set up logging: %v\n", err)
		return 1
	}
	logger = logger.With(log.ComponentKey, "boxoffice")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := pipeline.Run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("Run failed", err)
		return 1
	}
	return 0
}
