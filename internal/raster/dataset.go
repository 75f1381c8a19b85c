// Package raster opens NetCDF result datasets and reduces their bands to
// scalar summary statistics.
package raster

import (
	"fmt"
	"log"
	"math"
	"os"
	"reflect"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// crsVariable is the non-data coordinate-reference variable written by the
// backend; it is never a band.
const crsVariable = "crs"

// Dataset is an opened multi-band NetCDF file.
type Dataset struct {
	group  api.Group
	path   string
	logger *log.Logger
}

// Open opens the NetCDF dataset at path. A nil logger falls back to stderr.
func Open(path string, logger *log.Logger) (*Dataset, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	group, err := netcdf.Open(path)
	if err != nil {
		err = fmt.Errorf("open dataset %s: %w", path, err)
		logger.Printf("error opening dataset %s: %v", path, err)
		return nil, err
	}
	return &Dataset{group: group, path: path, logger: logger}, nil
}

// Close releases the underlying file handle.
func (d *Dataset) Close() {
	d.group.Close()
}

// Path returns the file path the dataset was opened from.
func (d *Dataset) Path() string {
	return d.path
}

// BandNames lists the data variables of the dataset, excluding the "crs"
// variable, grid-mapping variables, and one-dimensional coordinate variables
// (a variable named after its own single dimension describes an axis, not a
// band).
func (d *Dataset) BandNames() ([]string, error) {
	names := d.group.ListVariables()
	bands := make([]string, 0, len(names))
	for _, name := range names {
		if name == crsVariable {
			continue
		}
		v, err := d.group.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("inspect variable %s in %s: %w", name, d.path, err)
		}
		if isGridMapping(v) || isCoordinate(name, v) {
			continue
		}
		bands = append(bands, name)
	}
	slices.Sort(bands)
	return bands, nil
}

// BandValues flattens the named variable to float64 values, dropping NaN and
// fill-value cells.
func (d *Dataset) BandValues(name string) ([]float64, error) {
	v, err := d.group.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("read variable %s in %s: %w", name, d.path, err)
	}

	fill, hasFill := fillValue(v)
	var out []float64
	flatten(reflect.ValueOf(v.Values), func(x float64) {
		if math.IsNaN(x) {
			return
		}
		if hasFill && x == fill {
			return
		}
		out = append(out, x)
	})
	return out, nil
}

func isGridMapping(v *api.Variable) bool {
	if v.Attributes == nil {
		return false
	}
	_, has := v.Attributes.Get("grid_mapping_name")
	return has
}

func isCoordinate(name string, v *api.Variable) bool {
	return len(v.Dimensions) == 1 && v.Dimensions[0] == name
}

func fillValue(v *api.Variable) (float64, bool) {
	if v.Attributes == nil {
		return 0, false
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		raw, has := v.Attributes.Get(key)
		if !has {
			continue
		}
		if f, ok := asFloat(reflect.ValueOf(raw)); ok {
			return f, true
		}
	}
	return 0, false
}

// flatten walks the nested slices the NetCDF library returns for
// n-dimensional variables and emits every numeric cell.
func flatten(v reflect.Value, emit func(float64)) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Interface {
		flatten(v.Elem(), emit)
		return
	}
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		for i := 0; i < v.Len(); i++ {
			flatten(v.Index(i), emit)
		}
		return
	}
	if f, ok := asFloat(v); ok {
		emit(f)
	}
}

func asFloat(v reflect.Value) (float64, bool) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
