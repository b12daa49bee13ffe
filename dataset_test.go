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
	"reflect"
	"testing"

	"github.com/kr/pretty"
)

const timeUnits = "days since 1850-01-01 00:00:00"

// testDataset returns a small grid with a descending latitude axis.
// The value of tas at time t, latitude index j and longitude index i
// is tasValue(t, j, i).
func testDataset(times ...float64) *Dataset {
	lat := []float64{1.5, 0.5, -0.5}
	lon := []float64{-1.5, -0.5, 0.5, 1.5}
	tas := make([]float32, 0, len(times)*len(lat)*len(lon))
	for _, tt := range times {
		for j := range lat {
			for i := range lon {
				tas = append(tas, tasValue(tt, j, i))
			}
		}
	}
	return &Dataset{
		Dims: []Dimension{
			{Name: "time", Len: len(times)},
			{Name: "lat", Len: len(lat)},
			{Name: "lon", Len: len(lon)},
		},
		Vars: []*Variable{
			{
				Name: "time", Dims: []string{"time"},
				Data: append([]float64(nil), times...),
				Attrs: []Attribute{
					{Name: "units", Value: timeUnits},
					{Name: "calendar", Value: "proleptic_gregorian"},
				},
			},
			{
				Name: "lat", Dims: []string{"lat"}, Data: lat,
				Attrs: []Attribute{{Name: "units", Value: "degrees_north"}},
			},
			{
				Name: "lon", Dims: []string{"lon"}, Data: lon,
				Attrs: []Attribute{{Name: "units", Value: "degrees_east"}},
			},
			{
				Name: "tas", Dims: []string{"time", "lat", "lon"}, Data: tas,
				Attrs: []Attribute{
					{Name: "units", Value: "K"},
					{Name: "_FillValue", Value: []float32{1e20}},
				},
			},
		},
		Attrs: []Attribute{{Name: "title", Value: "test data"}},
	}
}

func tasValue(t float64, j, i int) float32 {
	return float32(t*100 + float64(j*10+i))
}

func TestCheck(t *testing.T) {
	d := testDataset(0, 1)
	if err := d.Check(); err != nil {
		t.Fatal(err)
	}
	d.Var("tas").Data = []float32{1, 2, 3}
	if err := d.Check(); err == nil {
		t.Error("expected an error for a variable of the wrong length")
	}
	d = testDataset(0)
	d.Vars[3].Dims = []string{"time", "height"}
	if err := d.Check(); err == nil {
		t.Error("expected an error for an undefined dimension")
	}
}

func TestLabelRange(t *testing.T) {
	asc := []float64{-1.5, -0.5, 0.5, 1.5}
	desc := []float64{1.5, 0.5, -0.5}
	tests := []struct {
		name        string
		vals        []float64
		lo, hi      float64
		start, stop int
	}{
		{name: "ascending inner", vals: asc, lo: -0.5, hi: 0.5, start: 1, stop: 3},
		{name: "ascending between", vals: asc, lo: -1, hi: 1, start: 1, stop: 3},
		{name: "ascending all", vals: asc, lo: -10, hi: 10, start: 0, stop: 4},
		{name: "ascending inverted", vals: asc, lo: 1, hi: -1, start: 3, stop: 3},
		{name: "ascending outside", vals: asc, lo: 5, hi: 10, start: 4, stop: 4},
		{name: "descending", vals: desc, lo: 1, hi: -1, start: 1, stop: 3},
		{name: "descending exact", vals: desc, lo: 1.5, hi: 0.5, start: 0, stop: 2},
		{name: "descending ascending bounds", vals: desc, lo: -1, hi: 1, start: 3, stop: 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			start, stop, err := labelRange(test.vals, test.lo, test.hi)
			if err != nil {
				t.Fatal(err)
			}
			if start != test.start || stop != test.stop {
				t.Errorf("have [%d, %d), want [%d, %d)", start, stop, test.start, test.stop)
			}
		})
	}
	if _, _, err := labelRange([]float64{0, 2, 1}, 0, 1); err == nil {
		t.Error("expected an error for a non-monotonic coordinate")
	}
}

func TestSubset(t *testing.T) {
	d := testDataset(0, 1)
	o, err := d.Subset(BoundingBox{LonMin: -1, LonMax: 1, LatMin: 1, LatMax: -1})
	if err != nil {
		t.Fatal(err)
	}
	wantDims := []Dimension{{Name: "time", Len: 2}, {Name: "lat", Len: 2}, {Name: "lon", Len: 2}}
	if !reflect.DeepEqual(o.Dims, wantDims) {
		t.Errorf("dims: %v", pretty.Diff(o.Dims, wantDims))
	}
	if have, want := o.Var("lon").Data, []float64{-0.5, 0.5}; !reflect.DeepEqual(have, want) {
		t.Errorf("lon: have %v, want %v", have, want)
	}
	if have, want := o.Var("lat").Data, []float64{0.5, -0.5}; !reflect.DeepEqual(have, want) {
		t.Errorf("lat: have %v, want %v", have, want)
	}
	var want []float32
	for _, tt := range []float64{0, 1} {
		for _, j := range []int{1, 2} {
			for _, i := range []int{1, 2} {
				want = append(want, tasValue(tt, j, i))
			}
		}
	}
	if have := o.Var("tas").Data; !reflect.DeepEqual(have, want) {
		t.Errorf("tas: %v", pretty.Diff(have, want))
	}
	if !reflect.DeepEqual(o.Var("tas").Attrs, d.Var("tas").Attrs) {
		t.Error("attributes were not kept")
	}
	if err := o.Check(); err != nil {
		t.Error(err)
	}
	// The input is unchanged.
	if n, _ := d.Dim("lon"); n != 4 {
		t.Errorf("input lon length changed to %d", n)
	}
}

func TestSubsetEmpty(t *testing.T) {
	d := testDataset(0)
	// Latitude is descending, so south-to-north bounds select nothing.
	if _, err := d.Subset(BoundingBox{LonMin: -1, LonMax: 1, LatMin: -1, LatMax: 1}); err == nil {
		t.Error("expected an error for an empty selection")
	}
	if _, err := d.SelectRange("height", 0, 1); err == nil {
		t.Error("expected an error for a missing coordinate")
	}
}

func TestSortBy(t *testing.T) {
	d := testDataset(3, 1, 2, 0)
	o, err := d.SortBy("time")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := o.Var("time").Data, []float64{0, 1, 2, 3}; !reflect.DeepEqual(have, want) {
		t.Fatalf("time: have %v, want %v", have, want)
	}
	if want := testDataset(0, 1, 2, 3).Var("tas").Data; !reflect.DeepEqual(o.Var("tas").Data, want) {
		t.Errorf("tas: %v", pretty.Diff(o.Var("tas").Data, want))
	}

	sorted := testDataset(0, 1)
	o, err = sorted.SortBy("time")
	if err != nil {
		t.Fatal(err)
	}
	if o != sorted {
		t.Error("an already sorted dataset should be returned as is")
	}
}

func TestTake(t *testing.T) {
	d := testDataset(0, 1, 2)
	o, err := d.Take("lon", []int{3, 0})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := o.Var("lon").Data, []float64{1.5, -1.5}; !reflect.DeepEqual(have, want) {
		t.Errorf("lon: have %v, want %v", have, want)
	}
	tas := o.Var("tas").Data.([]float32)
	if len(tas) != 3*3*2 {
		t.Fatalf("tas has %d values", len(tas))
	}
	if tas[0] != tasValue(0, 0, 3) || tas[1] != tasValue(0, 0, 0) || tas[17] != tasValue(2, 2, 0) {
		t.Errorf("unexpected values %v", tas)
	}
	if o.Var("time") != d.Var("time") {
		t.Error("variables without the dimension should be shared")
	}
	if _, err := d.Take("lon", []int{4}); err == nil {
		t.Error("expected an out of range error")
	}
	if _, err := d.Take("lon", []int{-1}); err == nil {
		t.Error("expected an out of range error for a negative index")
	}
}

func TestFillValue(t *testing.T) {
	tests := []struct {
		v    Variable
		want interface{}
	}{
		{v: Variable{Data: []float32{1}, Attrs: []Attribute{{Name: "_FillValue", Value: []float32{1e20}}}}, want: float32(1e20)},
		{v: Variable{Data: []float64{1}, Attrs: []Attribute{{Name: "_FillValue", Value: []float32{1e20}}}}, want: 9.9692099683868690e+36},
		{v: Variable{Data: []float32{1}}, want: float32(9.9692099683868690e+36)},
		{v: Variable{Data: []int32{1}}, want: int32(-2147483647)},
		{v: Variable{Data: []int16{1}, Attrs: []Attribute{{Name: "_FillValue", Value: []int16{-9999}}}}, want: int16(-9999)},
		{v: Variable{Data: []uint8{1}}, want: uint8(0x81)},
		{v: Variable{Data: []uint8{'a'}, Char: true}, want: uint8(0)},
	}
	for _, test := range tests {
		if have := test.v.FillValue(); have != test.want {
			t.Errorf("%T: have %v, want %v", test.v.Data, have, test.want)
		}
	}
}

func TestFloat64s(t *testing.T) {
	for _, data := range []interface{}{
		[]float64{1, 2}, []float32{1, 2}, []int32{1, 2}, []int16{1, 2}, []uint8{1, 2},
	} {
		if have := Float64s(data); !reflect.DeepEqual(have, []float64{1, 2}) {
			t.Errorf("%T: have %v", data, have)
		}
	}
}
