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

// Package isimip downloads bias-adjusted ISIMIP3b climate projections,
// optionally crops them to a bounding box, and combines the per-decade
// files of each climate model into a single time series.
package isimip

import (
	"fmt"
	"strings"
)

// Version gives the version number.
const Version = "0.1.0"

// DefaultBaseURL is the root of the ISIMIP3b bias-adjusted daily
// atmospheric climate input data.
const DefaultBaseURL = "https://files.isimip.org/ISIMIP3b/InputData/climate/atmosphere/bias-adjusted/global/daily"

// all is the selector that expands to every catalog entry.
const all = "all"

// Model is a climate model in the ISIMIP3b catalog.
type Model struct {
	// Name is the model name as used in directory names, e.g. "GFDL-ESM4".
	Name string

	// Token is the lowercase form used in ISIMIP file names.
	Token string

	// Experiment is the forcing variant (ensemble member) of the
	// model run that ISIMIP bias-adjusted.
	Experiment string
}

func (m Model) String() string { return m.Name }

// Models is the fixed catalog of climate models.
var Models = []Model{
	{Name: "GFDL-ESM4", Token: "gfdl-esm4", Experiment: "r1i1p1f1"},
	{Name: "MPI-ESM1-2-HR", Token: "mpi-esm1-2-hr", Experiment: "r1i1p1f1"},
	{Name: "IPSL-CM6A-LR", Token: "ipsl-cm6a-lr", Experiment: "r1i1p1f1"},
	{Name: "MRI-ESM2-0", Token: "mri-esm2-0", Experiment: "r1i1p1f1"},
	{Name: "UKESM1-0-LL", Token: "ukesm1-0-ll", Experiment: "r1i1p1f2"},
}

// Scenario is a climate forcing scenario.
type Scenario string

// The available scenarios.
const (
	Historical Scenario = "historical"
	SSP126     Scenario = "ssp126"
	SSP585     Scenario = "ssp585"
)

// Scenarios is the fixed list of scenarios.
var Scenarios = []Scenario{Historical, SSP126, SSP585}

// Variables holds the codes of the available climate variables.
var Variables = []string{"hurs", "huss", "pr", "prsn", "ps", "tas", "tasmax", "tasmin"}

// historicalEnd is the last year of the historical period.
const historicalEnd = 2014

// DecadeStarts returns the first year of each ten-year file that
// tiles the time range of scenario s.
func DecadeStarts(s Scenario) []int {
	first, last := 2021, 2081
	if s == Historical {
		first, last = 1971, 2011
	}
	var o []int
	for y := first; y <= last; y += 10 {
		o = append(o, y)
	}
	return o
}

// EndYear returns the last year held by the file of scenario s
// that starts in year start. Historical files never extend past 2014.
func EndYear(s Scenario, start int) int {
	end := start + 9
	if s == Historical && end > historicalEnd {
		end = historicalEnd
	}
	return end
}

// ValidationError is returned when a model, variable or scenario
// is not part of the catalog.
type ValidationError struct {
	// Kind is "model", "variable" or "scenario".
	Kind    string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("isimip: invalid %s: %q. Valid %ss: [%s]",
		e.Kind, e.Value, e.Kind, strings.Join(e.Allowed, ", "))
}

func modelNames() []string {
	o := make([]string, len(Models))
	for i, m := range Models {
		o[i] = m.Name
	}
	return o
}

func scenarioNames() []string {
	o := make([]string, len(Scenarios))
	for i, s := range Scenarios {
		o[i] = string(s)
	}
	return o
}

// LookupModel returns the catalog entry for the named model.
func LookupModel(name string) (Model, bool) {
	for _, m := range Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// ResolveModels converts a model selector into catalog entries. A
// selector that contains "all" resolves to the whole catalog. Repeated
// names are resolved once, in the order they first appear.
func ResolveModels(selector []string) ([]Model, error) {
	for _, s := range selector {
		if s == all {
			return append([]Model(nil), Models...), nil
		}
	}
	if len(selector) == 0 {
		return nil, &ValidationError{Kind: "model", Value: "", Allowed: modelNames()}
	}
	o := make([]Model, 0, len(selector))
	seen := make(map[string]bool)
	for _, s := range selector {
		m, ok := LookupModel(s)
		if !ok {
			return nil, &ValidationError{Kind: "model", Value: s, Allowed: modelNames()}
		}
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		o = append(o, m)
	}
	return o, nil
}

// ResolveScenarios converts a scenario selector, either a scenario
// name or "all", into the list of scenarios to process.
func ResolveScenarios(selector string) ([]Scenario, error) {
	if selector == all {
		return append([]Scenario(nil), Scenarios...), nil
	}
	for _, s := range Scenarios {
		if string(s) == selector {
			return []Scenario{s}, nil
		}
	}
	return nil, &ValidationError{Kind: "scenario", Value: selector, Allowed: scenarioNames()}
}

// ResolveVariables checks that every requested variable code is
// in the catalog and returns them without repeats, in the order they
// first appear. There is no "all" shortcut for variables.
func ResolveVariables(selector []string) ([]string, error) {
	if len(selector) == 0 {
		return nil, &ValidationError{Kind: "variable", Value: "", Allowed: Variables}
	}
	o := make([]string, 0, len(selector))
	seen := make(map[string]bool)
	for _, v := range selector {
		if seen[v] {
			continue
		}
		seen[v] = true
		found := false
		for _, vv := range Variables {
			if v == vv {
				found = true
				break
			}
		}
		if !found {
			return nil, &ValidationError{Kind: "variable", Value: v, Allowed: Variables}
		}
		o = append(o, v)
	}
	return o, nil
}
