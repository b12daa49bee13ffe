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
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// croppedSuffix ends the name of every downloaded file.
const croppedSuffix = "_cropped.nc"

// Task is one ten-year file of one variable from one model and scenario.
type Task struct {
	Model     Model
	Variable  string
	Scenario  Scenario
	StartYear int
}

// EndYear returns the last year covered by the file.
func (t Task) EndYear() int { return EndYear(t.Scenario, t.StartYear) }

// Filename returns the ISIMIP file name of the task, without extension.
func (t Task) Filename() string {
	return fmt.Sprintf("%s_%s_w5e5_%s_%s_global_daily_%d_%d",
		t.Model.Token, t.Model.Experiment, t.Scenario, t.Variable, t.StartYear, t.EndYear())
}

// URL returns the remote location of the file below baseURL.
func (t Task) URL(baseURL string) string {
	return fmt.Sprintf("%s/%s/%s/%s.nc", strings.TrimSuffix(baseURL, "/"),
		t.Scenario, t.Model.Name, t.Filename())
}

// Dir returns the local directory that holds the files of the task's
// model and scenario.
func (t Task) Dir(outputDir string) string {
	return ModelDir(outputDir, t.Model, t.Scenario)
}

// LocalPath returns the location the file is saved to.
func (t Task) LocalPath(outputDir string) string {
	return filepath.Join(t.Dir(outputDir), t.Filename()+croppedSuffix)
}

func (t Task) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", t.Model.Name, t.Scenario, t.Variable, t.StartYear)
}

// ModelDir returns the directory where the downloads of model m and
// scenario s are stored.
func ModelDir(outputDir string, m Model, s Scenario) string {
	return filepath.Join(outputDir, m.Name, string(s))
}

// An Opener opens a remote gridded dataset. dir is the directory the
// dataset will be saved to; openers that stage data on disk do so there.
type Opener interface {
	Open(ctx context.Context, url, dir string) (*Dataset, error)
}

// HTTPOpener retrieves datasets over HTTP(S).
type HTTPOpener struct {
	// Client is the HTTP client to use. If nil, http.DefaultClient
	// is used.
	Client *http.Client

	// TempDir is where responses are staged before being decoded.
	// If empty, they are staged in the directory passed to Open.
	TempDir string
}

// Open downloads the file at url and reads it.
func (o *HTTPOpener) Open(ctx context.Context, url, dir string) (*Dataset, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("isimip: HTTP error when fetching %s: %s", url, resp.Status)
	}

	if o.TempDir != "" {
		dir = o.TempDir
	}
	tmp, err := ioutil.TempFile(dir, ".isimip")
	if err != nil {
		return nil, fmt.Errorf("isimip: creating temporary download file: %v", err)
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("isimip: downloading %s: %v", url, err)
	}
	return ReadFile(tmp.Name())
}

// Fetcher downloads single files, cropping them if a bounding box
// is set.
type Fetcher struct {
	// BaseURL is the root of the remote file tree.
	BaseURL string

	// OutputDir is the root of the local file tree.
	OutputDir string

	// BBox, if not nil, is the region files are cropped to.
	BBox *BoundingBox

	Opener Opener
	Log    logrus.FieldLogger
}

// NewFetcher returns a Fetcher that stores files under outputDir and
// retrieves them from the ISIMIP file server.
func NewFetcher(outputDir string, bbox *BoundingBox) *Fetcher {
	return &Fetcher{
		BaseURL:   DefaultBaseURL,
		OutputDir: outputDir,
		BBox:      bbox,
		Opener:    &HTTPOpener{},
		Log:       logrus.StandardLogger(),
	}
}

// Fetch downloads the file of task t unless it is already present.
// Failures are logged and not returned: a failed task is simply
// missing from the output directory.
func (f *Fetcher) Fetch(ctx context.Context, t Task) {
	if err := f.fetch(ctx, t); err != nil {
		f.Log.WithFields(logrus.Fields{
			"url":  t.URL(f.BaseURL),
			"task": t.String(),
		}).Errorf("error processing %s: %v", t.URL(f.BaseURL), err)
	}
}

func (f *Fetcher) fetch(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("isimip: %v", r)
		}
	}()
	if t.EndYear() < t.StartYear {
		return nil
	}
	if err := os.MkdirAll(t.Dir(f.OutputDir), os.ModePerm); err != nil {
		return fmt.Errorf("isimip: creating output directory: %v", err)
	}

	url := t.URL(f.BaseURL)
	out := t.LocalPath(f.OutputDir)
	if _, err := os.Stat(out); err == nil {
		f.Log.WithField("file", out).Infof("file already exists: %s", out)
		return nil
	}

	f.Log.WithField("url", url).Infof("downloading %s", url)
	ds, err := f.Opener.Open(ctx, url, t.Dir(f.OutputDir))
	if err != nil {
		return err
	}
	if f.BBox != nil {
		if ds, err = ds.Subset(*f.BBox); err != nil {
			return err
		}
	}
	if err := ds.WriteFile(out); err != nil {
		return err
	}
	f.Log.WithField("file", out).Infof("successfully processed: %s", out)
	return nil
}
