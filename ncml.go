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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// ncmlScript builds an aggregated dataset descriptor with the loadeR
// package of climate4R. The source directory and the output file are
// passed as trailing command-line arguments.
const ncmlScript = `args <- commandArgs(trailingOnly = TRUE)
library(loadeR)
makeAggregatedDataset(source.dir = args[1], ncml.file = args[2])`

// A Runner runs an external program.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run runs the named program and waits for it to exit. A non-zero exit
// status is returned as an error that includes the program's output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %v: %s", name, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// NcmlDir returns the directory holding the descriptors of scenario s.
func NcmlDir(outputDir string, s Scenario) string {
	return filepath.Join(outputDir, "ncml", string(s))
}

// NcmlPath returns the location of the descriptor of model m and scenario s.
func NcmlPath(outputDir string, m Model, s Scenario) string {
	return filepath.Join(NcmlDir(outputDir, s), fmt.Sprintf("%s_%s.ncml", m.Name, s))
}

// Aggregator writes ncml descriptors that present the downloaded files
// of each model and scenario as one virtual dataset.
type Aggregator struct {
	OutputDir string

	// CondaEnv is the conda environment in which R and climate4R are
	// installed.
	CondaEnv string

	Runner Runner
	Log    logrus.FieldLogger
}

// Run writes one descriptor per model and scenario. Pairs without a
// download directory are skipped and failures are logged, so Run only
// returns an error if ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, models []Model, scenarios []Scenario) error {
	for _, s := range scenarios {
		if err := os.MkdirAll(NcmlDir(a.OutputDir, s), os.ModePerm); err != nil {
			a.Log.WithField("scenario", s).Errorf("creating ncml directory: %v", err)
			continue
		}
		for _, m := range models {
			if err := ctx.Err(); err != nil {
				return err
			}
			log := a.Log.WithFields(logrus.Fields{"model": m.Name, "scenario": s})
			src := ModelDir(a.OutputDir, m, s)
			if _, err := os.Stat(src); err != nil {
				log.Warnf("directory %s does not exist, skipping...", src)
				continue
			}
			out := NcmlPath(a.OutputDir, m, s)
			if err := a.Runner.Run(ctx, "conda", a.args(src, out)...); err != nil {
				log.Errorf("failed to create ncml file for %s %s: %v", m.Name, s, err)
				continue
			}
			log.WithField("file", out).Infof("successfully created ncml file: %s", out)
		}
	}
	return nil
}

// args returns the arguments to conda that run ncmlScript on src.
func (a *Aggregator) args(src, out string) []string {
	return []string{"run", "-n", a.CondaEnv, "Rscript", "-e", ncmlScript, src, out}
}
