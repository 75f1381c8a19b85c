package raster_test

import (
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/require"

	"github.com/openeo-contrib/raster-regression/internal/raster"
)

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeDataset(t *testing.T, path string, vars map[string]api.Variable) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatalf("create dataset writer: %v", err)
	}
	for name, v := range vars {
		if err := cw.AddVar(name, v); err != nil {
			t.Fatalf("add variable %s: %v", name, err)
		}
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("close dataset writer: %v", err)
	}
}

func TestCalculateBandStatistics_ReferenceExample(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "single.nc")
	writeDataset(t, path, map[string]api.Variable{
		"B02": {Values: []float64{1, 2, 3, 4}, Dimensions: []string{"t"}},
	})

	ds, err := raster.Open(path, discard())
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	defer ds.Close()

	stats, err := raster.CalculateBandStatistics(ds, discard())
	if err != nil {
		t.Fatalf("calculate statistics: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 band, got %d", len(stats))
	}

	b02 := stats["B02"]
	require.InDelta(t, 2.5, b02.Mean, 1e-12)
	require.InDelta(t, 1.25, b02.Variance, 1e-12)
	require.InDelta(t, 1.0, b02.Min, 1e-12)
	require.InDelta(t, 4.0, b02.Max, 1e-12)
	require.InDelta(t, 1.75, b02.Quantile25, 1e-12)
	require.InDelta(t, 2.5, b02.Quantile50, 1e-12)
	require.InDelta(t, 3.25, b02.Quantile75, 1e-12)
}

func TestCalculateBandStatistics_ExcludesCRSAndCoordinates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "multi.nc")
	writeDataset(t, path, map[string]api.Variable{
		"B02": {Values: [][]float32{{1, 2}, {3, 4}}, Dimensions: []string{"y", "x"}},
		"B03": {Values: [][]float32{{5, 6}, {7, 8}}, Dimensions: []string{"y", "x"}},
		"B04": {Values: [][]float32{{0, 0}, {0, 1}}, Dimensions: []string{"y", "x"}},
		"crs": {Values: []int32{0}, Dimensions: []string{"nv"}},
		"x":   {Values: []float64{10.0, 10.1}, Dimensions: []string{"x"}},
		"y":   {Values: []float64{50.0, 50.1}, Dimensions: []string{"y"}},
	})

	ds, err := raster.Open(path, discard())
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	defer ds.Close()

	stats, err := raster.CalculateBandStatistics(ds, discard())
	if err != nil {
		t.Fatalf("calculate statistics: %v", err)
	}

	if len(stats) != 3 {
		t.Fatalf("expected 3 bands, got %d: %v", len(stats), stats)
	}
	for _, name := range []string{"B02", "B03", "B04"} {
		bs, ok := stats[name]
		if !ok {
			t.Fatalf("missing band %s", name)
		}
		for _, stat := range raster.StatNames {
			v, ok := bs.Stat(stat)
			if !ok {
				t.Fatalf("band %s missing statistic %s", name, stat)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("band %s statistic %s is not finite: %v", name, stat, v)
			}
		}
	}
	if _, ok := stats["crs"]; ok {
		t.Fatal("crs variable must not be treated as a band")
	}
}

func TestCalculateBandStatistics_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "idem.nc")
	writeDataset(t, path, map[string]api.Variable{
		"B08": {Values: []float64{0.5, 1.5, 2.5, 3.5, 9.0}, Dimensions: []string{"t"}},
	})

	ds, err := raster.Open(path, discard())
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	defer ds.Close()

	first, err := raster.CalculateBandStatistics(ds, discard())
	if err != nil {
		t.Fatalf("first calculation: %v", err)
	}
	second, err := raster.CalculateBandStatistics(ds, discard())
	if err != nil {
		t.Fatalf("second calculation: %v", err)
	}
	require.Equal(t, first, second)
}

func TestCalculateBandStatistics_SkipsFillValues(t *testing.T) {
	t.Parallel()

	attrs, err := util.NewOrderedMap(
		[]string{"_FillValue"},
		map[string]interface{}{"_FillValue": float64(-9999)},
	)
	if err != nil {
		t.Fatalf("build attributes: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fill.nc")
	writeDataset(t, path, map[string]api.Variable{
		"B11": {
			Values:     []float64{1, -9999, 2, -9999, 3, 4},
			Dimensions: []string{"t"},
			Attributes: attrs,
		},
	})

	ds, err := raster.Open(path, discard())
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	defer ds.Close()

	stats, err := raster.CalculateBandStatistics(ds, discard())
	if err != nil {
		t.Fatalf("calculate statistics: %v", err)
	}

	// Fill cells dropped: statistics over [1,2,3,4] only.
	b11 := stats["B11"]
	require.InDelta(t, 2.5, b11.Mean, 1e-12)
	require.InDelta(t, 1.0, b11.Min, 1e-12)
	require.InDelta(t, 4.0, b11.Max, 1e-12)
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := raster.Open(filepath.Join(t.TempDir(), "absent.nc"), discard())
	if err == nil {
		t.Fatal("expected error for missing dataset file")
	}
}
