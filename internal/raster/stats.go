package raster

import (
	"log"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BandStats holds the seven summary statistics computed per band.
// Variance is the population variance.
type BandStats struct {
	Mean       float64 `json:"mean"`
	Variance   float64 `json:"variance"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Quantile25 float64 `json:"quantile25"`
	Quantile50 float64 `json:"quantile50"`
	Quantile75 float64 `json:"quantile75"`
}

// StatNames lists the statistic keys in reference-file order.
var StatNames = []string{"mean", "variance", "min", "max", "quantile25", "quantile50", "quantile75"}

// Stat returns the named statistic, or false for an unknown name.
func (s BandStats) Stat(name string) (float64, bool) {
	switch name {
	case "mean":
		return s.Mean, true
	case "variance":
		return s.Variance, true
	case "min":
		return s.Min, true
	case "max":
		return s.Max, true
	case "quantile25":
		return s.Quantile25, true
	case "quantile50":
		return s.Quantile50, true
	case "quantile75":
		return s.Quantile75, true
	default:
		return 0, false
	}
}

// CalculateBandStatistics reduces every band of the dataset to its summary
// statistics. Missing-data cells are skipped; a band with no valid cells
// yields NaN statistics.
func CalculateBandStatistics(ds *Dataset, logger *log.Logger) (map[string]BandStats, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	bands, err := ds.BandNames()
	if err != nil {
		logger.Printf("error listing bands in %s: %v", ds.Path(), err)
		return nil, err
	}

	statistics := make(map[string]BandStats, len(bands))
	for _, name := range bands {
		values, err := ds.BandValues(name)
		if err != nil {
			logger.Printf("error reading band %s in %s: %v", name, ds.Path(), err)
			return nil, err
		}
		if len(values) == 0 {
			logger.Printf("band %s has no valid cells", name)
		}
		statistics[name] = summarize(values)
	}
	return statistics, nil
}

func summarize(values []float64) BandStats {
	if len(values) == 0 {
		nan := math.NaN()
		return BandStats{Mean: nan, Variance: nan, Min: nan, Max: nan, Quantile25: nan, Quantile50: nan, Quantile75: nan}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return BandStats{
		Mean:       stat.Mean(values, nil),
		Variance:   stat.PopVariance(values, nil),
		Min:        floats.Min(values),
		Max:        floats.Max(values),
		Quantile25: percentile(sorted, 0.25),
		Quantile50: percentile(sorted, 0.50),
		Quantile75: percentile(sorted, 0.75),
	}
}

// percentile computes the p-th quantile of a sorted sample with linear
// interpolation between closest ranks (h = p*(n-1)), the convention the
// reference statistics were generated with. gonum's stat.Quantile cumulant
// kinds implement different estimators and do not reproduce these values.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return sorted[lo]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
