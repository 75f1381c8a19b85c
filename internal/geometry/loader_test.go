package geometry_test

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/openeo-contrib/raster-regression/internal/geometry"
)

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"name": "field-1"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[5.0, 51.2], [5.1, 51.2], [5.1, 51.3], [5.0, 51.3], [5.0, 51.2]]]
      }
    }
  ]
}`

func TestLoad_ValidFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fields.geojson"), []byte(sampleGeoJSON), 0644); err != nil {
		t.Fatalf("write geometry file: %v", err)
	}

	loader := geometry.NewLoader(dir, discard())
	collection, err := loader.Load("fields.geojson")
	if err != nil {
		t.Fatalf("load geometries: %v", err)
	}
	if collection == nil {
		t.Fatal("expected a parsed geometry collection")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	loader := geometry.NewLoader(t.TempDir(), discard())
	_, err := loader.Load("absent.geojson")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.geojson"), []byte(`{"type": "FeatureCollection",`), 0644); err != nil {
		t.Fatalf("write geometry file: %v", err)
	}

	loader := geometry.NewLoader(dir, discard())
	_, err := loader.Load("broken.geojson")
	var perr *geometry.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}
