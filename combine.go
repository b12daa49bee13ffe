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
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// CombinedDir returns the directory holding the combined files of scenario s.
func CombinedDir(outputDir string, s Scenario) string {
	return filepath.Join(outputDir, "combined", string(s))
}

// CombinedPath returns the location of the combined file of model m
// and scenario s.
func CombinedPath(outputDir string, m Model, s Scenario) string {
	return filepath.Join(CombinedDir(outputDir, s), m.Name+"_combined.nc")
}

// Combiner merges the downloaded files of each model and scenario into
// a single file.
type Combiner struct {
	OutputDir string
	Log       logrus.FieldLogger
}

// Run combines the files of every model and scenario. Failures are
// logged per pair, so Run only returns an error if ctx is cancelled.
func (c *Combiner) Run(ctx context.Context, models []Model, scenarios []Scenario) error {
	if err := os.MkdirAll(filepath.Join(c.OutputDir, "combined"), os.ModePerm); err != nil {
		c.Log.Errorf("creating combined directory: %v", err)
		return nil
	}
	for _, s := range scenarios {
		if err := os.MkdirAll(CombinedDir(c.OutputDir, s), os.ModePerm); err != nil {
			c.Log.WithField("scenario", s).Errorf("creating combined directory: %v", err)
			continue
		}
		for _, m := range models {
			if err := ctx.Err(); err != nil {
				return err
			}
			log := c.Log.WithFields(logrus.Fields{"model": m.Name, "scenario": s})
			src := ModelDir(c.OutputDir, m, s)
			if _, err := os.Stat(src); err != nil {
				log.Warnf("directory %s does not exist, skipping...", src)
				continue
			}
			files, err := filepath.Glob(filepath.Join(src, "*"+croppedSuffix))
			if err != nil || len(files) == 0 {
				log.Warnf("no netcdf files found in %s", src)
				continue
			}
			log.Infof("combining files for %s %s...", m.Name, s)
			out := CombinedPath(c.OutputDir, m, s)
			if err := combineFiles(files, out); err != nil {
				log.Errorf("failed to combine files for %s %s: %v", m.Name, s, err)
				continue
			}
			log.WithField("file", out).Infof("successfully created combined file: %s", out)
		}
	}
	return nil
}

// combineFiles reads files, sorts each by time, combines them by
// coordinates and writes the result to out.
func combineFiles(files []string, out string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("isimip: %v", r)
		}
	}()
	datasets := make([]*Dataset, len(files))
	for i, f := range files {
		d, err := ReadFile(f)
		if err != nil {
			return err
		}
		if d.Coord("time") != nil {
			if d, err = d.SortBy("time"); err != nil {
				return err
			}
		}
		datasets[i] = d
	}
	combined, err := CombineByCoords(datasets)
	if err != nil {
		return err
	}
	return combined.WriteFile(out)
}

// CombineByCoords combines datasets using the values of their dimension
// coordinates. Datasets holding the same data variables are concatenated
// along the one dimension whose coordinate differs between them, in order
// of that coordinate. The resulting groups are then merged into one
// dataset. Global attributes are taken from the first dataset.
func CombineByCoords(datasets []*Dataset) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("isimip: no datasets to combine")
	}
	var keys []string
	groups := make(map[string][]*Dataset)
	for _, d := range datasets {
		names := d.DataVars()
		sort.Strings(names)
		k := strings.Join(names, ",")
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], d)
	}

	var o *Dataset
	for _, k := range keys {
		g, err := concatByCoords(groups[k])
		if err != nil {
			return nil, err
		}
		if o == nil {
			o = g
			continue
		}
		if o, err = merge(o, g); err != nil {
			return nil, err
		}
	}
	o.Attrs = datasets[0].Attrs
	return o, nil
}

// concatByCoords concatenates datasets that hold the same variables.
func concatByCoords(datasets []*Dataset) (*Dataset, error) {
	if len(datasets) == 1 {
		return datasets[0], nil
	}
	var dims []string
	for _, dim := range datasets[0].Dims {
		c := datasets[0].Coord(dim.Name)
		if c == nil {
			continue
		}
		first := Float64s(c.Data)
		for _, d := range datasets[1:] {
			cc := d.Coord(dim.Name)
			if cc == nil {
				return nil, fmt.Errorf("isimip: coordinate %s is missing from some datasets", dim.Name)
			}
			other := Float64s(cc.Data)
			if len(other) != len(first) || !floats.Equal(first, other) {
				dims = append(dims, dim.Name)
				break
			}
		}
	}
	switch len(dims) {
	case 0:
		return nil, fmt.Errorf("isimip: could not find any dimension coordinates to use to order the datasets for concatenation")
	case 1:
	default:
		return nil, fmt.Errorf("isimip: combining along more than one dimension (%s) is not supported", strings.Join(dims, ", "))
	}
	dim := dims[0]

	units := datasets[0].Coord(dim).Attr("units")
	firsts := make([]float64, len(datasets))
	direction := 0
	for i, d := range datasets {
		c := d.Coord(dim)
		if !reflect.DeepEqual(c.Attr("units"), units) {
			return nil, fmt.Errorf("isimip: the units of coordinate %s differ between datasets", dim)
		}
		vals := Float64s(c.Data)
		m := monotonic(vals)
		if m == 0 || (direction != 0 && len(vals) > 1 && m != direction) {
			return nil, fmt.Errorf("isimip: coordinate %s must be monotonic in the same direction in every dataset", dim)
		}
		if len(vals) > 1 {
			direction = m
		}
		firsts[i] = vals[0]
	}
	if direction == 0 {
		direction = 1
	}
	order := make([]int, len(datasets))
	floats.Argsort(firsts, order)
	if direction < 0 {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	sorted := make([]*Dataset, len(datasets))
	for i, j := range order {
		sorted[i] = datasets[j]
	}

	o, err := concat(sorted, dim)
	if err != nil {
		return nil, err
	}
	vals := Float64s(o.Coord(dim).Data)
	if m := monotonic(vals); m == 0 || (len(vals) > 1 && m != direction) {
		return nil, fmt.Errorf("isimip: resulting object does not have monotonic global indexes along dimension %s", dim)
	}
	return o, nil
}

// concat joins datasets end to end along dim. Variables without dim are
// taken from the first dataset.
func concat(datasets []*Dataset, dim string) (*Dataset, error) {
	first := datasets[0]
	total := 0
	for _, d := range datasets {
		n, ok := d.Dim(dim)
		if !ok {
			return nil, fmt.Errorf("isimip: dimension %s is missing from some datasets", dim)
		}
		total += n
	}
	o := &Dataset{Attrs: first.Attrs}
	for _, dd := range first.Dims {
		if dd.Name == dim {
			dd.Len = total
		} else {
			for _, d := range datasets[1:] {
				if n, _ := d.Dim(dd.Name); n != dd.Len {
					return nil, fmt.Errorf("isimip: dimension %s differs in length between datasets", dd.Name)
				}
			}
		}
		o.Dims = append(o.Dims, dd)
	}

	for _, v := range first.Vars {
		axis := indexOf(v.Dims, dim)
		if axis < 0 {
			o.Vars = append(o.Vars, v)
			continue
		}
		shape, err := first.shape(v)
		if err != nil {
			return nil, err
		}
		outer, inner := blocks(shape, axis)
		typ := reflect.TypeOf(v.Data)
		dst := reflect.MakeSlice(typ, outer*total*inner, outer*total*inner)
		pos := 0
		for b := 0; b < outer; b++ {
			for _, d := range datasets {
				vv := d.Var(v.Name)
				if vv == nil || !reflect.DeepEqual(vv.Dims, v.Dims) {
					return nil, fmt.Errorf("isimip: variable %s does not have the same dimensions in every dataset", v.Name)
				}
				if reflect.TypeOf(vv.Data) != typ {
					return nil, fmt.Errorf("isimip: variable %s does not have the same type in every dataset", v.Name)
				}
				n, _ := d.Dim(dim)
				src := reflect.ValueOf(vv.Data)
				size := n * inner
				reflect.Copy(dst.Slice(pos, pos+size), src.Slice(b*size, (b+1)*size))
				pos += size
			}
		}
		nv := *v
		nv.Data = dst.Interface()
		o.Vars = append(o.Vars, &nv)
	}
	return o, nil
}

// merge adds the dimensions and variables of b to a. Shared dimensions
// that have coordinates are first aligned on the union of their values,
// with the positions missing from one side set to the fill value of its
// variables. Shared variables must then hold identical data.
func merge(a, b *Dataset) (*Dataset, error) {
	a, b, err := align(a, b)
	if err != nil {
		return nil, err
	}
	o := &Dataset{
		Dims:  append([]Dimension(nil), a.Dims...),
		Vars:  append([]*Variable(nil), a.Vars...),
		Attrs: a.Attrs,
	}
	for _, dd := range b.Dims {
		n, ok := o.Dim(dd.Name)
		if !ok {
			o.Dims = append(o.Dims, dd)
			continue
		}
		if n != dd.Len {
			return nil, fmt.Errorf("isimip: cannot merge: dimension %s has lengths %d and %d", dd.Name, n, dd.Len)
		}
	}
	for _, v := range b.Vars {
		existing := o.Var(v.Name)
		if existing == nil {
			o.Vars = append(o.Vars, v)
			continue
		}
		if !reflect.DeepEqual(existing.Dims, v.Dims) || !reflect.DeepEqual(existing.Data, v.Data) {
			if IsCoord(v) {
				return nil, fmt.Errorf("isimip: cannot merge: coordinate %s differs between datasets", v.Name)
			}
			return nil, fmt.Errorf("isimip: cannot merge: conflicting values for variable %s", v.Name)
		}
	}
	return o, nil
}

// align reindexes a and b so that every dimension they share with a
// coordinate holds the same coordinate values in both, in the order of
// the coordinate of a.
func align(a, b *Dataset) (*Dataset, *Dataset, error) {
	for _, dd := range b.Dims {
		if _, ok := a.Dim(dd.Name); !ok {
			continue
		}
		ca, cb := a.Coord(dd.Name), b.Coord(dd.Name)
		if ca == nil || cb == nil {
			continue
		}
		va, vb := Float64s(ca.Data), Float64s(cb.Data)
		if floats.Equal(va, vb) {
			continue
		}
		if !reflect.DeepEqual(ca.Attr("units"), cb.Attr("units")) {
			return nil, nil, fmt.Errorf("isimip: cannot merge: the units of coordinate %s differ between datasets", dd.Name)
		}
		union, err := unionCoords(va, vb)
		if err != nil {
			return nil, nil, fmt.Errorf("isimip: cannot merge: coordinate %s: %v", dd.Name, err)
		}
		if a, err = reindex(a, dd.Name, va, union, ca.Data); err != nil {
			return nil, nil, err
		}
		if b, err = reindex(b, dd.Name, vb, union, ca.Data); err != nil {
			return nil, nil, err
		}
	}
	return a, b, nil
}

// unionCoords returns the distinct values of a and b, in the direction
// of a, or of b if a holds a single value.
func unionCoords(a, b []float64) ([]float64, error) {
	direction := 1
	for _, vals := range [][]float64{b, a} {
		switch m := monotonic(vals); {
		case m == 0:
			return nil, fmt.Errorf("values are not monotonic")
		case len(vals) > 1:
			direction = m
		}
	}
	seen := make(map[float64]bool)
	var union []float64
	for _, vals := range [][]float64{a, b} {
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				union = append(union, v)
			}
		}
	}
	sort.Float64s(union)
	if direction < 0 {
		for i, j := 0, len(union)-1; i < j; i, j = i+1, j-1 {
			union[i], union[j] = union[j], union[i]
		}
	}
	return union, nil
}

// reindex returns d laid out along dim at the coordinate values union.
// vals are the current coordinate values of d, and the new coordinate
// takes the type of like.
func reindex(d *Dataset, dim string, vals, union []float64, like interface{}) (*Dataset, error) {
	pos := make(map[float64]int, len(vals))
	for i, v := range vals {
		if _, ok := pos[v]; ok {
			return nil, fmt.Errorf("isimip: cannot merge: coordinate %s has repeated value %g", dim, v)
		}
		pos[v] = i
	}
	idx := make([]int, len(union))
	for i, v := range union {
		j, ok := pos[v]
		if !ok {
			j = -1
		}
		idx[i] = j
	}
	o, err := d.take(dim, idx)
	if err != nil {
		return nil, err
	}
	c := o.Coord(dim)
	data := reflect.MakeSlice(reflect.TypeOf(like), len(union), len(union))
	elem := data.Type().Elem()
	for i, v := range union {
		data.Index(i).Set(reflect.ValueOf(v).Convert(elem))
	}
	c.Data = data.Interface()
	return o, nil
}
