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
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// rename returns d with its tas variable renamed to name.
func rename(d *Dataset, name string) *Dataset {
	d.Var("tas").Name = name
	return d
}

func TestCombineByCoords(t *testing.T) {
	t.Run("concat", func(t *testing.T) {
		o, err := CombineByCoords([]*Dataset{
			testDataset(20, 21, 22),
			testDataset(0, 1, 2),
			testDataset(10, 11, 12),
		})
		if err != nil {
			t.Fatal(err)
		}
		want := testDataset(0, 1, 2, 10, 11, 12, 20, 21, 22)
		if !reflect.DeepEqual(o, want) {
			t.Errorf("combined dataset: %v", pretty.Diff(o, want))
		}
	})
	t.Run("merge", func(t *testing.T) {
		o, err := CombineByCoords([]*Dataset{
			testDataset(2, 3),
			rename(testDataset(0, 1), "pr"),
			testDataset(0, 1),
			rename(testDataset(2, 3), "pr"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if have, want := o.DataVars(), []string{"tas", "pr"}; !reflect.DeepEqual(have, want) {
			t.Fatalf("data variables: have %v, want %v", have, want)
		}
		want := testDataset(0, 1, 2, 3).Var("tas").Data
		if !reflect.DeepEqual(o.Var("pr").Data, want) {
			t.Errorf("pr: %v", pretty.Diff(o.Var("pr").Data, want))
		}
		if !reflect.DeepEqual(o.Var("tas").Data, want) {
			t.Errorf("tas: %v", pretty.Diff(o.Var("tas").Data, want))
		}
		if n, _ := o.Dim("time"); n != 4 {
			t.Errorf("time length: have %d, want 4", n)
		}
		if err := o.Check(); err != nil {
			t.Error(err)
		}
	})
	t.Run("merge missing time steps", func(t *testing.T) {
		o, err := CombineByCoords([]*Dataset{
			testDataset(0, 1),
			testDataset(2, 3),
			rename(testDataset(0, 1), "pr"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := o.Check(); err != nil {
			t.Fatal(err)
		}
		if have, want := o.Var("time").Data, []float64{0, 1, 2, 3}; !reflect.DeepEqual(have, want) {
			t.Errorf("time: have %v, want %v", have, want)
		}
		if !reflect.DeepEqual(o.Var("tas").Data, testDataset(0, 1, 2, 3).Var("tas").Data) {
			t.Error("tas should hold all four time steps")
		}
		pr := o.Var("pr").Data.([]float32)
		step := len(pr) / 4
		if !reflect.DeepEqual(pr[:2*step], testDataset(0, 1).Var("tas").Data) {
			t.Errorf("pr: %v", pretty.Diff(pr[:2*step], testDataset(0, 1).Var("tas").Data))
		}
		for i, v := range pr[2*step:] {
			if v != 1e20 {
				t.Fatalf("pr[%d] = %g, want the fill value 1e20", 2*step+i, v)
			}
		}
	})
	t.Run("merge different grids", func(t *testing.T) {
		pr := rename(testDataset(0, 1), "pr")
		pr.Var("lon").Data = []float64{0.5, 1.5, 2.5, 3.5}
		v := pr.Var("pr")
		v.Attrs = v.Attrs[:1] // no _FillValue
		o, err := CombineByCoords([]*Dataset{testDataset(0, 1), pr})
		if err != nil {
			t.Fatal(err)
		}
		if err := o.Check(); err != nil {
			t.Fatal(err)
		}
		if have, want := o.Var("lon").Data, []float64{-1.5, -0.5, 0.5, 1.5, 2.5, 3.5}; !reflect.DeepEqual(have, want) {
			t.Errorf("lon: have %v, want %v", have, want)
		}
		tas := o.Var("tas").Data.([]float32)
		if tas[0] != tasValue(0, 0, 0) || tas[4] != 1e20 {
			t.Errorf("tas row: %v", tas[:6])
		}
		prData := o.Var("pr").Data.([]float32)
		if prData[0] != float32(9.9692099683868690e+36) || prData[2] != tasValue(0, 0, 0) {
			t.Errorf("pr row: %v", prData[:6])
		}
	})
	t.Run("single", func(t *testing.T) {
		d := testDataset(0, 1)
		o, err := CombineByCoords([]*Dataset{d})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(o, testDataset(0, 1)) {
			t.Error("a single dataset should be returned unchanged")
		}
	})

	errorTests := []struct {
		name     string
		datasets func() []*Dataset
		msg      string
	}{
		{
			name:     "empty",
			datasets: func() []*Dataset { return nil },
			msg:      "no datasets",
		},
		{
			name: "identical",
			datasets: func() []*Dataset {
				return []*Dataset{testDataset(0, 1), testDataset(0, 1)}
			},
			msg: "could not find any dimension coordinates",
		},
		{
			name: "units",
			datasets: func() []*Dataset {
				d := testDataset(2, 3)
				d.Var("time").Attrs[0].Value = "days since 1900-01-01 00:00:00"
				return []*Dataset{testDataset(0, 1), d}
			},
			msg: "units",
		},
		{
			name: "two dimensions",
			datasets: func() []*Dataset {
				d := testDataset(2, 3)
				d.Var("lon").Data = []float64{10, 11, 12, 13}
				return []*Dataset{testDataset(0, 1), d}
			},
			msg: "more than one dimension",
		},
		{
			name: "overlap",
			datasets: func() []*Dataset {
				return []*Dataset{testDataset(0, 1, 2), testDataset(1, 2, 3)}
			},
			msg: "monotonic",
		},
		{
			name: "merge conflict",
			datasets: func() []*Dataset {
				d := testDataset(0, 1)
				d.Vars = append(d.Vars, rename(testDataset(0, 1), "pr").Var("pr"))
				d.Var("tas").Data.([]float32)[0] = -1
				return []*Dataset{testDataset(0, 1), d}
			},
			msg: "conflicting values for variable tas",
		},
		{
			name: "merge not monotonic",
			datasets: func() []*Dataset {
				d := rename(testDataset(0, 1), "pr")
				d.Var("lon").Data = []float64{1, 3, 2, 4}
				return []*Dataset{testDataset(0, 1), d}
			},
			msg: "not monotonic",
		},
		{
			name: "merge units",
			datasets: func() []*Dataset {
				d := rename(testDataset(2, 3), "pr")
				d.Var("time").Attrs[0].Value = "days since 1900-01-01 00:00:00"
				return []*Dataset{testDataset(0, 1), d}
			},
			msg: "units of coordinate time",
		},
	}
	for _, test := range errorTests {
		t.Run(test.name, func(t *testing.T) {
			_, err := CombineByCoords(test.datasets())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.msg) {
				t.Errorf("error %q does not contain %q", err, test.msg)
			}
		})
	}
}

func TestCombinerRun(t *testing.T) {
	dir, err := ioutil.TempDir("", "isimip")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	gfdl, _ := LookupModel("GFDL-ESM4")
	mpi, _ := LookupModel("MPI-ESM1-2-HR")
	ipsl, _ := LookupModel("IPSL-CM6A-LR")

	src := ModelDir(dir, gfdl, Historical)
	if err := os.MkdirAll(src, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	// Each file has an unsorted time axis.
	files := map[string]*Dataset{
		"a" + croppedSuffix: testDataset(9, 7, 8, 5, 6),
		"b" + croppedSuffix: testDataset(4, 3, 2, 1, 0),
	}
	for name, d := range files {
		if err := d.WriteFile(filepath.Join(src, name)); err != nil {
			t.Fatal(err)
		}
	}
	// A directory without downloaded files.
	if err := os.MkdirAll(ModelDir(dir, ipsl, Historical), os.ModePerm); err != nil {
		t.Fatal(err)
	}

	log, hook := test.NewNullLogger()
	c := &Combiner{OutputDir: dir, Log: log}
	if err := c.Run(context.Background(), []Model{gfdl, mpi, ipsl}, []Scenario{Historical}); err != nil {
		t.Fatal(err)
	}

	o, err := ReadFile(CombinedPath(dir, gfdl, Historical))
	if err != nil {
		t.Fatal(err)
	}
	times := Float64s(o.Var("time").Data)
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			t.Fatalf("time is not non-decreasing: %v", times)
		}
	}
	want := testDataset(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	if !reflect.DeepEqual(o, want) {
		t.Errorf("combined file: %v", pretty.Diff(o, want))
	}

	for _, m := range []Model{mpi, ipsl} {
		if _, err := os.Stat(CombinedPath(dir, m, Historical)); !os.IsNotExist(err) {
			t.Errorf("%s: combined file should not exist", m)
		}
	}
	var warnings int
	for _, e := range hook.Entries {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("have %d warnings, want 2", warnings)
	}
}

func TestCombinerRunCancelled(t *testing.T) {
	dir, err := ioutil.TempDir("", "isimip")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log, _ := test.NewNullLogger()
	c := &Combiner{OutputDir: dir, Log: log}
	if err := c.Run(ctx, Models, []Scenario{Historical}); err != context.Canceled {
		t.Errorf("have error %v, want %v", err, context.Canceled)
	}
}
