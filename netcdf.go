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
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
)

var (
	classicMagic = []byte("CDF")
	hdf5Magic    = []byte("\x89HDF\r\n\x1a\n")
)

// ReadFile reads a netCDF file into memory. Both the classic format
// and the HDF5-based NetCDF-4 format that ISIMIP distributes are
// supported.
func ReadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("isimip: opening netcdf file: %v", err)
	}
	defer f.Close()

	magic := make([]byte, len(hdf5Magic))
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("isimip: reading %s: %v", path, err)
	}
	magic = magic[:n]

	var d *Dataset
	switch {
	case bytes.HasPrefix(magic, classicMagic):
		d, err = readClassic(f)
	case bytes.HasPrefix(magic, hdf5Magic):
		f.Close()
		d, err = readNetCDF4(path)
	default:
		return nil, fmt.Errorf("isimip: %s is not a netcdf file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("isimip: reading %s: %v", path, err)
	}
	if err := d.Check(); err != nil {
		return nil, fmt.Errorf("isimip: reading %s: %v", path, err)
	}
	return d, nil
}

// readClassic reads a classic (CDF-1 or CDF-2) file.
func readClassic(f *os.File) (d *Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed header: %v", r)
		}
	}()
	nc, err := cdf.Open(f)
	if err != nil {
		return nil, err
	}
	if errs := nc.Header.Check(); len(errs) > 0 {
		return nil, errs[0]
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	numRecs := int(nc.Header.NumRecs(fi.Size()))

	d = &Dataset{Attrs: classicAttrs(nc.Header, "")}
	lengths := nc.Header.Lengths("")
	for i, name := range nc.Header.Dimensions("") {
		l := lengths[i]
		if l == 0 {
			l = numRecs
		}
		d.Dims = append(d.Dims, Dimension{Name: name, Len: l})
	}

	for _, name := range nc.Header.Variables() {
		v := &Variable{
			Name:  name,
			Dims:  nc.Header.Dimensions(name),
			Attrs: classicAttrs(nc.Header, name),
		}
		shape, err := d.shape(v)
		if err != nil {
			return nil, err
		}
		n := 1
		for _, l := range shape {
			n *= l
		}
		buf := nc.Header.ZeroValue(name, n)
		if _, ok := buf.(string); ok {
			buf = make([]uint8, n)
			v.Char = true
		}
		if n > 0 {
			var begin, end []int
			if len(shape) > 0 {
				begin = make([]int, len(shape))
				end = make([]int, len(shape))
				for i, l := range shape {
					end[i] = l - 1
				}
			}
			r := nc.Reader(name, begin, end)
			if _, err := r.Read(buf); err != nil {
				return nil, fmt.Errorf("reading variable %s: %v", name, err)
			}
		}
		v.Data = buf
		d.Vars = append(d.Vars, v)
	}
	return d, nil
}

func classicAttrs(h *cdf.Header, v string) []Attribute {
	var o []Attribute
	for _, a := range h.Attributes(v) {
		o = append(o, Attribute{Name: a, Value: h.GetAttribute(v, a)})
	}
	return o
}

// readNetCDF4 reads an HDF5-based NetCDF-4 file.
func readNetCDF4(path string) (d *Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()
	return readGroup(nc)
}

// group is the part of a NetCDF-4 group that readGroup uses.
type group interface {
	Attributes() api.AttributeMap
	ListVariables() []string
	GetVariable(name string) (*api.Variable, error)
}

// readGroup reads the variables and attributes of g. Variables of types
// the classic format cannot hold as-is are widened: unsigned 16-bit
// integers to int32 and 64-bit integers to float64. String variables
// are skipped.
func readGroup(g group) (*Dataset, error) {
	d := &Dataset{Attrs: nativeAttrs(g.Attributes())}
	for _, name := range g.ListVariables() {
		vr, err := g.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("reading variable %s: %v", name, err)
		}
		data, shape, err := flatten(vr.Values)
		if err == errUnsupported {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("reading variable %s: %v", name, err)
		}
		for len(shape) < len(vr.Dimensions) {
			shape = append(shape, 0)
		}
		for i, dim := range vr.Dimensions {
			if l, ok := d.Dim(dim); ok {
				if l != shape[i] {
					return nil, fmt.Errorf("variable %s: dimension %s has length %d, want %d", name, dim, shape[i], l)
				}
				continue
			}
			d.Dims = append(d.Dims, Dimension{Name: dim, Len: shape[i]})
		}
		d.Vars = append(d.Vars, &Variable{
			Name:  name,
			Dims:  vr.Dimensions,
			Data:  data,
			Attrs: nativeAttrs(vr.Attributes),
		})
	}
	return d, nil
}

func nativeAttrs(am api.AttributeMap) []Attribute {
	if am == nil {
		return nil
	}
	var o []Attribute
	for _, k := range am.Keys() {
		v, ok := am.Get(k)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			o = append(o, Attribute{Name: k, Value: s})
			continue
		}
		data, _, err := flatten(v)
		if err != nil {
			continue
		}
		o = append(o, Attribute{Name: k, Value: data})
	}
	return o
}

var errUnsupported = fmt.Errorf("unsupported data type")

// flatten converts a scalar or an arbitrarily nested slice of numbers
// into a flat slice of one of the classic netCDF types, also
// returning the lengths of the nesting levels.
func flatten(values interface{}) (interface{}, []int, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, errUnsupported
	}
	var shape []int
	leaf := rv.Type()
	for cur := rv; cur.Kind() == reflect.Slice; {
		shape = append(shape, cur.Len())
		leaf = leaf.Elem()
		if cur.Len() == 0 {
			for leaf.Kind() == reflect.Slice {
				leaf = leaf.Elem()
			}
			break
		}
		cur = cur.Index(0)
	}
	for leaf.Kind() == reflect.Slice {
		leaf = leaf.Elem()
	}

	var outType reflect.Type
	switch leaf.Kind() {
	case reflect.Float32:
		outType = reflect.TypeOf([]float32{})
	case reflect.Float64, reflect.Int64, reflect.Uint64, reflect.Uint32, reflect.Int:
		outType = reflect.TypeOf([]float64{})
	case reflect.Int32, reflect.Uint16:
		outType = reflect.TypeOf([]int32{})
	case reflect.Int16:
		outType = reflect.TypeOf([]int16{})
	case reflect.Uint8, reflect.Int8:
		outType = reflect.TypeOf([]uint8{})
	default:
		return nil, nil, errUnsupported
	}
	n := 1
	for _, l := range shape {
		n *= l
	}
	out := reflect.MakeSlice(outType, 0, n)
	elem := outType.Elem()

	var walk func(x reflect.Value)
	walk = func(x reflect.Value) {
		if x.Kind() != reflect.Slice {
			out = reflect.Append(out, convertScalar(x, elem))
			return
		}
		if x.Type() == outType {
			out = reflect.AppendSlice(out, x)
			return
		}
		for i := 0; i < x.Len(); i++ {
			walk(x.Index(i))
		}
	}
	walk(rv)
	return out.Interface(), shape, nil
}

func convertScalar(x reflect.Value, t reflect.Type) reflect.Value {
	switch x.Kind() {
	case reflect.Int8:
		return reflect.ValueOf(uint8(x.Int()))
	case reflect.Uint64, reflect.Uint32, reflect.Uint16, reflect.Uint8:
		if t.Kind() == reflect.Float64 {
			return reflect.ValueOf(float64(x.Uint()))
		}
	}
	return x.Convert(t)
}

// WriteFile writes d to path in the classic netCDF format,
// replacing any existing file.
func (d *Dataset) WriteFile(path string) error {
	if err := d.Check(); err != nil {
		return err
	}
	for _, dim := range d.Dims {
		if dim.Len == 0 {
			return fmt.Errorf("isimip: writing %s: dimension %s is empty", path, dim.Name)
		}
	}
	h, err := d.header()
	if err != nil {
		return fmt.Errorf("isimip: writing %s: %v", path, err)
	}
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("isimip: writing netcdf file: %v", err)
	}
	defer w.Close()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return fmt.Errorf("isimip: writing %s: %v", path, err)
	}
	for _, v := range d.Vars {
		// The writer reports io.EOF once the variable is full.
		n, err := f.Writer(v.Name, nil, nil).Write(v.Data)
		if err == io.EOF && n == v.Len() {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("isimip: writing variable %s to %s: %v", v.Name, path, err)
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return fmt.Errorf("isimip: writing %s: %v", path, err)
	}
	return w.Close()
}

// header builds the netCDF header for d. The cdf package reports
// invalid definitions by panicking, so those are recovered here.
func (d *Dataset) header() (h *cdf.Header, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	names := make([]string, len(d.Dims))
	lengths := make([]int, len(d.Dims))
	for i, dim := range d.Dims {
		names[i] = dim.Name
		lengths[i] = dim.Len
	}
	h = cdf.NewHeader(names, lengths)
	for _, a := range d.Attrs {
		h.AddAttribute("", a.Name, a.Value)
	}
	for _, v := range d.Vars {
		var kind interface{} = v.Data
		if v.Char {
			kind = ""
		}
		h.AddVariable(v.Name, v.Dims, kind)
		for _, a := range v.Attrs {
			h.AddAttribute(v.Name, a.Name, a.Value)
		}
	}
	h.Define()
	return h, nil
}
