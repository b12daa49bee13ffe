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

package isimiputil

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/isimip"
	"github.com/spatialmodel/isimip/cloud"
	"github.com/spf13/cast"
)

// downloadConfig creates a download configuration from
// the information in cfg.
func downloadConfig(cfg *viper.Viper) (isimip.Config, error) {
	bbox, err := parseBBox(cfg.GetStringSlice("bbox"))
	if err != nil {
		return isimip.Config{}, err
	}
	workers, err := cast.ToIntE(cfg.Get("max_workers"))
	if err != nil {
		return isimip.Config{}, fmt.Errorf("isimip: invalid max_workers: %v", err)
	}
	if workers < 1 {
		return isimip.Config{}, fmt.Errorf("isimip: max_workers must be at least 1 but is %d", workers)
	}
	publish := os.ExpandEnv(cfg.GetString("publish"))
	if publish != "" && !cloud.IsBlob(publish) {
		return isimip.Config{}, fmt.Errorf("isimip: publish location %q must start with gs://, s3:// or file://", publish)
	}
	return isimip.Config{
		Models:        expandStringSlice(cfg.GetStringSlice("models")),
		Variables:     expandStringSlice(cfg.GetStringSlice("variables")),
		Scenario:      cfg.GetString("scenario"),
		BBox:          bbox,
		OutputDir:     expandPath(cfg.GetString("output_dir")),
		MaxWorkers:    workers,
		AggregateWith: cfg.GetString("conda_env"),
		Combine:       cast.ToBool(cfg.Get("combine")),
		PublishTo:     publish,
		BaseURL:       os.ExpandEnv(cfg.GetString("base_url")),
	}, nil
}

// parseBBox converts the four bounds lon_min, lon_max, lat_min and lat_max
// into a bounding box. An empty slice means that no cropping is done.
// A single comma-separated value, as it may come from an environment
// variable, is also accepted.
func parseBBox(s []string) (*isimip.BoundingBox, error) {
	if len(s) == 1 {
		s = strings.Split(s[0], ",")
	}
	var vals []float64
	for _, v := range s {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("isimip: invalid bbox value %q: %v", v, err)
		}
		vals = append(vals, f)
	}
	switch len(vals) {
	case 0:
		return nil, nil
	case 4:
		return &isimip.BoundingBox{
			LonMin: vals[0],
			LonMax: vals[1],
			LatMin: vals[2],
			LatMax: vals[3],
		}, nil
	default:
		return nil, fmt.Errorf("isimip: bbox must have 4 values (lon_min, lon_max, lat_min, lat_max) but has %d", len(vals))
	}
}

// newLogger returns a logger writing to w at the given level.
func newLogger(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("isimip: invalid log_level: %v", err)
	}
	log := logrus.New()
	log.Out = w
	log.Level = lvl
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	return log, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "" {
		return "."
	}
	return p
}
