// Package regression compares computed band statistics against ground truth
// and orchestrates end-to-end regression scenarios.
package regression

import (
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"github.com/openeo-contrib/raster-regression/internal/raster"
	"github.com/openeo-contrib/raster-regression/internal/reference"
)

// DefaultTolerance is the relative tolerance used when none is configured.
const DefaultTolerance = 0.01

// absEpsilon keeps comparisons against near-zero references from demanding
// exact equality.
const absEpsilon = 1e-12

// MismatchError reports the first statistic found outside tolerance.
type MismatchError struct {
	Band      string
	Stat      string
	Got       float64
	Want      float64
	Tolerance float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("band %q statistic %q: got %g, want %g within relative tolerance %g",
		e.Band, e.Stat, e.Got, e.Want, e.Tolerance)
}

// CompareBandStatistics checks each computed band against the reference data.
//
// Bands absent from the reference, and reference statistics absent from the
// computed output, are logged as warnings and skipped. A value outside
// |got-want| <= max(tolerance*|want|, eps) fails immediately with a
// *MismatchError; remaining statistics are not checked.
func CompareBandStatistics(
	computed map[string]raster.BandStats,
	groundtruth reference.BandStatistics,
	tolerance float64,
	logger *log.Logger,
) error {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	logger.Printf("comparing and asserting the statistics of different bands in the output")

	for _, band := range sortedKeys(computed) {
		gtStats, ok := groundtruth[band]
		if !ok {
			logger.Printf("warning: band %q not found in reference", band)
			continue
		}

		stats := computed[band]
		for _, stat := range sortedKeys(gtStats) {
			want := gtStats[stat]
			got, ok := stats.Stat(stat)
			if !ok {
				logger.Printf("warning: statistic %q not found for band %q in output", stat, band)
				continue
			}

			logger.Printf("assertion: band %q and statistic %q", band, stat)
			if !withinTolerance(got, want, tolerance) {
				return &MismatchError{Band: band, Stat: stat, Got: got, Want: want, Tolerance: tolerance}
			}
		}
	}
	return nil
}

func withinTolerance(got, want, tolerance float64) bool {
	if math.IsNaN(got) || math.IsNaN(want) {
		return false
	}
	bound := tolerance * math.Abs(want)
	if bound < absEpsilon {
		bound = absEpsilon
	}
	return math.Abs(got-want) <= bound
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
