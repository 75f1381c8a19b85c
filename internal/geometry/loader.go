// Package geometry loads the GeoJSON test geometries that regression
// scenarios aggregate over.
package geometry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/venicegeo/geojson-go/geojson"
)

// DefaultDir is the geometry directory used when none is configured.
const DefaultDir = "./geofiles"

// ParseError reports a geometry file that exists but is not valid GeoJSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse geometry file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Loader reads named geometry collections from a fixed directory.
type Loader struct {
	dir    string
	logger *log.Logger
}

// NewLoader constructs a Loader rooted at dir. Empty dir selects DefaultDir;
// a nil logger falls back to stderr.
func NewLoader(dir string, logger *log.Logger) *Loader {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Loader{dir: dir, logger: logger}
}

// Load reads and parses the GeoJSON file with the given name.
// IO and parse errors are logged with the path and returned unchanged.
func (l *Loader) Load(filename string) (any, error) {
	path := filepath.Join(l.dir, filename)
	l.logger.Printf("reading geometries from %s", path)

	b, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read geometry file %s: %w", path, err)
		l.logger.Printf("error while reading geometries from %s: %v", path, err)
		return nil, err
	}

	collection, err := geojson.Parse(b)
	if err != nil {
		perr := &ParseError{Path: path, Err: err}
		l.logger.Printf("error while reading geometries from %s: %v", path, perr)
		return nil, perr
	}
	return collection, nil
}
