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
	"io/ioutil"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type call struct {
	name string
	args []string
}

// fakeRunner records the programs it is asked to run and fails
// for arguments that contain fail.
type fakeRunner struct {
	calls []call
	fail  string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	r.calls = append(r.calls, call{name: name, args: args})
	for _, a := range args {
		if r.fail != "" && strings.Contains(a, r.fail) {
			return fmt.Errorf("exit status 1")
		}
	}
	return nil
}

func TestAggregatorRun(t *testing.T) {
	dir, err := ioutil.TempDir("", "isimip")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	gfdl, _ := LookupModel("GFDL-ESM4")
	mpi, _ := LookupModel("MPI-ESM1-2-HR")
	ukesm, _ := LookupModel("UKESM1-0-LL")
	for _, m := range []Model{gfdl, ukesm} {
		if err := os.MkdirAll(ModelDir(dir, m, SSP126), os.ModePerm); err != nil {
			t.Fatal(err)
		}
	}

	r := &fakeRunner{fail: "GFDL-ESM4"}
	log, hook := test.NewNullLogger()
	a := &Aggregator{OutputDir: dir, CondaEnv: "climate4R", Runner: r, Log: log}
	if err := a.Run(context.Background(), []Model{gfdl, mpi, ukesm}, []Scenario{SSP126}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(NcmlDir(dir, SSP126)); err != nil {
		t.Errorf("ncml directory was not created: %v", err)
	}
	// The failure for GFDL-ESM4 does not stop UKESM1-0-LL.
	if len(r.calls) != 2 {
		t.Fatalf("have %d calls, want 2: %+v", len(r.calls), r.calls)
	}
	want := call{
		name: "conda",
		args: []string{"run", "-n", "climate4R", "Rscript", "-e", ncmlScript,
			ModelDir(dir, ukesm, SSP126), NcmlPath(dir, ukesm, SSP126)},
	}
	if !reflect.DeepEqual(r.calls[1], want) {
		t.Errorf("have call %+v, want %+v", r.calls[1], want)
	}
	if !strings.HasSuffix(NcmlPath(dir, ukesm, SSP126), "UKESM1-0-LL_ssp126.ncml") {
		t.Errorf("unexpected ncml path %s", NcmlPath(dir, ukesm, SSP126))
	}

	levels := make(map[logrus.Level]int)
	for _, e := range hook.Entries {
		levels[e.Level]++
	}
	if levels[logrus.WarnLevel] != 1 {
		t.Errorf("have %d warnings, want 1 for the missing MPI-ESM1-2-HR directory", levels[logrus.WarnLevel])
	}
	if levels[logrus.ErrorLevel] != 1 {
		t.Errorf("have %d errors, want 1 for GFDL-ESM4", levels[logrus.ErrorLevel])
	}
}

func TestNcmlScriptTakesArguments(t *testing.T) {
	// Paths reach R as arguments, never as part of the script.
	a := &Aggregator{CondaEnv: "env"}
	args := a.args("/data/it's here", "/out/x.ncml")
	if strings.Contains(args[5], "it's here") {
		t.Error("the source directory was written into the script")
	}
	if !strings.Contains(ncmlScript, "commandArgs(trailingOnly = TRUE)") {
		t.Error("the script does not read its arguments")
	}
	if args[len(args)-2] != "/data/it's here" || args[len(args)-1] != "/out/x.ncml" {
		t.Errorf("unexpected arguments %q", args)
	}
}
