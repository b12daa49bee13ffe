/*
Copyright © 2024 the isimip authors.
This file is part of isimip.

isimip is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

isimip is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with isimip.  If not, see <http://www.gnu.org/licenses/>.
*/

package isimip

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/isimip/cloud"
)

// Config holds the settings of a download run.
type Config struct {
	// Models holds model names or "all".
	Models []string

	// Variables holds variable codes.
	Variables []string

	// Scenario is a scenario name or "all".
	Scenario string

	// BBox, if not nil, is the region downloaded files are cropped to.
	BBox *BoundingBox

	// OutputDir is the root of the local file tree.
	OutputDir string

	// MaxWorkers is the number of concurrent downloads.
	// It defaults to DefaultWorkers.
	MaxWorkers int

	// AggregateWith, if set, is the conda environment used to write
	// ncml descriptors after downloading.
	AggregateWith string

	// Combine specifies whether the downloaded files are combined
	// into one file per model and scenario.
	Combine bool

	// PublishTo, if set, is a bucket ("file://", "gs://" or "s3://")
	// that the contents of OutputDir are uploaded to at the end of the run.
	PublishTo string

	// BaseURL is the root of the remote file tree. It defaults to
	// DefaultBaseURL.
	BaseURL string

	// Opener retrieves remote files. It defaults to an HTTPOpener.
	Opener Opener

	// Runner runs the ncml aggregation. It defaults to ExecRunner.
	Runner Runner

	// Log receives progress and error messages. It defaults to the
	// logrus standard logger.
	Log logrus.FieldLogger
}

func logger(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return logrus.StandardLogger()
	}
	return log
}

// Download retrieves every file selected by cfg and then runs the
// optional aggregation, combination and publication steps.
// Invalid selections are reported as a *ValidationError before
// anything is written to disk. Once validation has passed, failures
// are logged rather than returned and the only possible error is
// the cancellation of ctx.
func Download(ctx context.Context, cfg Config) error {
	models, err := ResolveModels(cfg.Models)
	if err != nil {
		return err
	}
	variables, err := ResolveVariables(cfg.Variables)
	if err != nil {
		return err
	}
	scenarios, err := ResolveScenarios(cfg.Scenario)
	if err != nil {
		return err
	}

	log := logger(cfg.Log)
	f := NewFetcher(cfg.OutputDir, cfg.BBox)
	f.Log = log
	if cfg.BaseURL != "" {
		f.BaseURL = cfg.BaseURL
	}
	if cfg.Opener != nil {
		f.Opener = cfg.Opener
	}
	d := &Downloader{Fetcher: f, Workers: cfg.MaxWorkers, Log: log}
	if err := d.Run(ctx, Tasks(models, variables, scenarios)); err != nil {
		return err
	}

	if cfg.AggregateWith != "" {
		a := &Aggregator{
			OutputDir: cfg.OutputDir,
			CondaEnv:  cfg.AggregateWith,
			Runner:    runner(cfg.Runner),
			Log:       log,
		}
		if err := a.Run(ctx, models, scenarios); err != nil {
			return err
		}
	}
	if cfg.Combine {
		c := &Combiner{OutputDir: cfg.OutputDir, Log: log}
		if err := c.Run(ctx, models, scenarios); err != nil {
			return err
		}
	}
	if cfg.PublishTo != "" {
		return publish(ctx, cfg.PublishTo, cfg.OutputDir, log)
	}
	return nil
}

func runner(r Runner) Runner {
	if r == nil {
		return ExecRunner{}
	}
	return r
}

// Combine combines the already downloaded files of the given models
// and scenario. It validates its arguments the same way Download does.
func Combine(ctx context.Context, models []string, scenario, outputDir string, log logrus.FieldLogger) error {
	ms, err := ResolveModels(models)
	if err != nil {
		return err
	}
	ss, err := ResolveScenarios(scenario)
	if err != nil {
		return err
	}
	c := &Combiner{OutputDir: outputDir, Log: logger(log)}
	return c.Run(ctx, ms, ss)
}

// Aggregate writes ncml descriptors for the already downloaded files
// of the given models and scenario, using the conda environment env.
// If r is nil, ExecRunner is used.
func Aggregate(ctx context.Context, models []string, scenario, outputDir, env string, r Runner, log logrus.FieldLogger) error {
	ms, err := ResolveModels(models)
	if err != nil {
		return err
	}
	ss, err := ResolveScenarios(scenario)
	if err != nil {
		return err
	}
	a := &Aggregator{
		OutputDir: outputDir,
		CondaEnv:  env,
		Runner:    runner(r),
		Log:       logger(log),
	}
	return a.Run(ctx, ms, ss)
}

// publish uploads every regular file under outputDir to bucketURL.
func publish(ctx context.Context, bucketURL, outputDir string, log logrus.FieldLogger) error {
	var files []string
	err := filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		log.WithField("bucket", bucketURL).Errorf("listing files to publish: %v", err)
		return nil
	}
	if err := cloud.Publish(ctx, bucketURL, outputDir, files, log); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("bucket", bucketURL).Errorf("publishing results: %v", err)
	}
	return nil
}
