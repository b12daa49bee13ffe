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
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultWorkers is the default number of concurrent downloads.
const DefaultWorkers = 5

// Tasks returns one task for every combination of model, scenario,
// variable and decade. Tasks that would end before they start are
// left out, as are repeats, so that every task writes its own file.
func Tasks(models []Model, variables []string, scenarios []Scenario) []Task {
	var o []Task
	seen := make(map[string]bool)
	for _, m := range models {
		for _, s := range scenarios {
			for _, v := range variables {
				for _, y := range DecadeStarts(s) {
					t := Task{Model: m, Variable: v, Scenario: s, StartYear: y}
					if t.EndYear() < t.StartYear || seen[t.String()] {
						continue
					}
					seen[t.String()] = true
					o = append(o, t)
				}
			}
		}
	}
	return o
}

// Downloader runs fetch tasks on a fixed number of workers.
type Downloader struct {
	Fetcher *Fetcher

	// Workers is the number of concurrent downloads.
	Workers int

	Log logrus.FieldLogger
}

// Run fetches all tasks and waits for them to finish. Tasks run in no
// particular order and their failures are only logged. Run returns an
// error only if ctx is cancelled, in which case tasks that have not
// started yet are abandoned.
func (d *Downloader) Run(ctx context.Context, tasks []Task) error {
	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d.Log.WithFields(logrus.Fields{
		"tasks":   len(tasks),
		"workers": workers,
	}).Info("starting downloads")

	taskChan := make(chan Task)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for t := range taskChan {
				d.Fetcher.Fetch(ctx, t)
			}
		}()
	}

dispatch:
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		select {
		case taskChan <- t:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(taskChan)
	wg.Wait()
	return ctx.Err()
}
