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
	"fmt"
	"reflect"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Attribute is a named netCDF attribute. Value is one of
// string, []uint8, []int16, []int32, []float32 or []float64.
type Attribute struct {
	Name  string
	Value interface{}
}

// Dimension is a named array axis.
type Dimension struct {
	Name string
	Len  int
}

// Variable is an array of values laid out in row-major order
// over the named dimensions.
type Variable struct {
	Name string
	Dims []string

	// Data is a flat slice of type []uint8, []int16, []int32,
	// []float32 or []float64.
	Data interface{}

	// Char marks a character variable whose bytes are held in Data.
	Char bool

	Attrs []Attribute
}

// Attr returns the value of the named attribute, or nil.
func (v *Variable) Attr(name string) interface{} {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return nil
}

// Len returns the number of elements in v.
func (v *Variable) Len() int {
	return reflect.ValueOf(v.Data).Len()
}

// Dataset is a gridded dataset held in memory, comparable to the
// contents of one netCDF file.
type Dataset struct {
	Dims  []Dimension
	Vars  []*Variable
	Attrs []Attribute
}

// Dim returns the length of the named dimension and whether it exists.
func (d *Dataset) Dim(name string) (int, bool) {
	for _, dd := range d.Dims {
		if dd.Name == name {
			return dd.Len, true
		}
	}
	return 0, false
}

// Var returns the named variable, or nil.
func (d *Dataset) Var(name string) *Variable {
	for _, v := range d.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Coord returns the coordinate variable of dimension dim, i.e. the
// one-dimensional variable with the same name as the dimension.
func (d *Dataset) Coord(dim string) *Variable {
	v := d.Var(dim)
	if v == nil || len(v.Dims) != 1 || v.Dims[0] != dim {
		return nil
	}
	return v
}

// IsCoord reports whether v is the coordinate variable of its dimension.
func IsCoord(v *Variable) bool {
	return len(v.Dims) == 1 && v.Dims[0] == v.Name
}

// DataVars returns the names of the variables that are not coordinates.
func (d *Dataset) DataVars() []string {
	var o []string
	for _, v := range d.Vars {
		if !IsCoord(v) {
			o = append(o, v.Name)
		}
	}
	return o
}

// shape returns the dimension lengths of v.
func (d *Dataset) shape(v *Variable) ([]int, error) {
	s := make([]int, len(v.Dims))
	for i, dim := range v.Dims {
		n, ok := d.Dim(dim)
		if !ok {
			return nil, fmt.Errorf("isimip: variable %s has undefined dimension %s", v.Name, dim)
		}
		s[i] = n
	}
	return s, nil
}

// Check verifies that every variable holds as many values as its
// dimensions require.
func (d *Dataset) Check() error {
	for _, v := range d.Vars {
		s, err := d.shape(v)
		if err != nil {
			return err
		}
		n := 1
		for _, l := range s {
			n *= l
		}
		if v.Data == nil {
			return fmt.Errorf("isimip: variable %s has no data", v.Name)
		}
		if l := v.Len(); l != n {
			return fmt.Errorf("isimip: variable %s has %d values but its dimensions require %d", v.Name, l, n)
		}
	}
	return nil
}

// Float64s returns the values of a numeric data slice as float64.
func Float64s(data interface{}) []float64 {
	switch t := data.(type) {
	case []float64:
		return append([]float64(nil), t...)
	case []float32:
		o := make([]float64, len(t))
		for i, v := range t {
			o[i] = float64(v)
		}
		return o
	case []int32:
		o := make([]float64, len(t))
		for i, v := range t {
			o[i] = float64(v)
		}
		return o
	case []int16:
		o := make([]float64, len(t))
		for i, v := range t {
			o[i] = float64(v)
		}
		return o
	case []uint8:
		o := make([]float64, len(t))
		for i, v := range t {
			o[i] = float64(v)
		}
		return o
	}
	panic(fmt.Errorf("isimip: unsupported data type %T", data))
}

// Take returns a copy of d that only holds positions idx along
// dimension dim, in the order given. Variables that do not use
// dim are shared with d.
func (d *Dataset) Take(dim string, idx []int) (*Dataset, error) {
	n, ok := d.Dim(dim)
	if !ok {
		return nil, fmt.Errorf("isimip: no dimension %s", dim)
	}
	for _, i := range idx {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("isimip: index %d out of range for dimension %s of length %d", i, dim, n)
		}
	}
	return d.take(dim, idx)
}

// take is Take without the range check. A position of -1 in idx
// is filled with the fill value of each variable.
func (d *Dataset) take(dim string, idx []int) (*Dataset, error) {
	o := &Dataset{Attrs: d.Attrs}
	for _, dd := range d.Dims {
		if dd.Name == dim {
			dd.Len = len(idx)
		}
		o.Dims = append(o.Dims, dd)
	}
	for _, v := range d.Vars {
		axis := indexOf(v.Dims, dim)
		if axis < 0 {
			o.Vars = append(o.Vars, v)
			continue
		}
		s, err := d.shape(v)
		if err != nil {
			return nil, err
		}
		outer, inner := blocks(s, axis)
		src := reflect.ValueOf(v.Data)
		dst := reflect.MakeSlice(src.Type(), outer*len(idx)*inner, outer*len(idx)*inner)
		var fill reflect.Value
		for b := 0; b < outer; b++ {
			for j, i := range idx {
				to := (b*len(idx) + j) * inner
				if i < 0 {
					if !fill.IsValid() {
						fill = reflect.ValueOf(v.FillValue())
					}
					for k := to; k < to+inner; k++ {
						dst.Index(k).Set(fill)
					}
					continue
				}
				from := (b*s[axis] + i) * inner
				reflect.Copy(dst.Slice(to, to+inner), src.Slice(from, from+inner))
			}
		}
		nv := *v
		nv.Data = dst.Interface()
		o.Vars = append(o.Vars, &nv)
	}
	return o, nil
}

// FillValue returns the value that marks missing data in v: its
// _FillValue attribute if that is a single value of the variable's
// type, and otherwise the netCDF default fill value of the type.
func (v *Variable) FillValue() interface{} {
	if a := reflect.ValueOf(v.Attr("_FillValue")); a.IsValid() && a.Kind() == reflect.Slice &&
		a.Type() == reflect.TypeOf(v.Data) && a.Len() == 1 {
		return a.Index(0).Interface()
	}
	switch v.Data.(type) {
	case []uint8:
		if v.Char {
			return uint8(0)
		}
		return uint8(0x81) // -127 as a signed byte
	case []int16:
		return int16(-32767)
	case []int32:
		return int32(-2147483647)
	case []float32:
		return float32(9.9692099683868690e+36)
	case []float64:
		return float64(9.9692099683868690e+36)
	}
	panic(fmt.Errorf("isimip: unsupported data type %T", v.Data))
}

// blocks returns the number of contiguous blocks before axis and
// the number of elements in each slab after it.
func blocks(shape []int, axis int) (outer, inner int) {
	outer, inner = 1, 1
	for i, l := range shape {
		switch {
		case i < axis:
			outer *= l
		case i > axis:
			inner *= l
		}
	}
	return
}

func indexOf(s []string, v string) int {
	for i, ss := range s {
		if ss == v {
			return i
		}
	}
	return -1
}

// monotonic returns 1 if vals never decrease, -1 if they never
// increase and 0 otherwise. A slice of one value is non-decreasing.
func monotonic(vals []float64) int {
	inc, dec := true, true
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			inc = false
		}
		if vals[i] > vals[i-1] {
			dec = false
		}
	}
	switch {
	case inc:
		return 1
	case dec:
		return -1
	}
	return 0
}

// labelRange returns the half-open range of positions selected by the
// label slice [lo, hi] on coordinate values vals. Both labels are
// inclusive. On a descending coordinate the selection runs from the first
// value <= lo to the last value >= hi, so it is empty when lo < hi.
func labelRange(vals []float64, lo, hi float64) (start, stop int, err error) {
	n := len(vals)
	switch monotonic(vals) {
	case 1:
		start = sort.Search(n, func(i int) bool { return vals[i] >= lo })
		stop = sort.Search(n, func(i int) bool { return vals[i] > hi })
	case -1:
		start = sort.Search(n, func(i int) bool { return vals[i] <= lo })
		stop = sort.Search(n, func(i int) bool { return vals[i] < hi })
	default:
		return 0, 0, fmt.Errorf("coordinate is not monotonic")
	}
	if stop < start {
		stop = start
	}
	return start, stop, nil
}

// SelectRange returns the part of d whose dim coordinate lies in the
// label range [lo, hi]. An empty selection is an error.
func (d *Dataset) SelectRange(dim string, lo, hi float64) (*Dataset, error) {
	c := d.Coord(dim)
	if c == nil {
		return nil, fmt.Errorf("isimip: selecting %s: no such coordinate", dim)
	}
	start, stop, err := labelRange(Float64s(c.Data), lo, hi)
	if err != nil {
		return nil, fmt.Errorf("isimip: selecting %s: %v", dim, err)
	}
	if start == stop {
		return nil, fmt.Errorf("isimip: selecting %s between %g and %g leaves no grid cells", dim, lo, hi)
	}
	idx := make([]int, stop-start)
	for i := range idx {
		idx[i] = start + i
	}
	return d.Take(dim, idx)
}

// BoundingBox is a rectangular region in longitude and latitude,
// in the units of the dataset coordinates.
type BoundingBox struct {
	LonMin, LonMax, LatMin, LatMax float64
}

// Subset crops d to b. The box is applied exactly as given: boxes that
// cross the antimeridian or have inverted bounds are not normalized.
func (d *Dataset) Subset(b BoundingBox) (*Dataset, error) {
	o, err := d.SelectRange("lon", b.LonMin, b.LonMax)
	if err != nil {
		return nil, err
	}
	return o.SelectRange("lat", b.LatMin, b.LatMax)
}

// SortBy returns d reordered so that the coordinate of dim is
// non-decreasing.
func (d *Dataset) SortBy(dim string) (*Dataset, error) {
	c := d.Coord(dim)
	if c == nil {
		return nil, fmt.Errorf("isimip: sorting by %s: no such coordinate", dim)
	}
	vals := Float64s(c.Data)
	if monotonic(vals) == 1 {
		return d, nil
	}
	idx := make([]int, len(vals))
	floats.Argsort(vals, idx)
	return d.Take(dim, idx)
}
