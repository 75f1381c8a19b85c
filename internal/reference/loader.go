// Package reference loads ground-truth band statistics for named regression
// scenarios from the shared reference file.
package reference

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// DefaultFile is the shared reference file used when none is configured.
const DefaultFile = "groundtruth_regression_test.json"

// BandStatistics maps band name to statistic name to expected value.
type BandStatistics = map[string]map[string]float64

// NotFoundError reports that the reference file has no record for a scenario.
type NotFoundError struct {
	Scenario string
	File     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no reference data found for scenario %q in file %q", e.Scenario, e.File)
}

// ParseError reports a reference file that exists but is not valid JSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse reference file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type record struct {
	ScenarioName  string         `json:"scenario_name"`
	ReferenceData BandStatistics `json:"reference_data"`
}

// Load opens the reference file at path and returns the statistics of the
// first record whose scenario name matches. Errors are logged then returned
// unchanged.
func Load(path, scenario string, logger *log.Logger) (BandStatistics, error) {
	if path == "" {
		path = DefaultFile
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	logger.Printf("extracting reference band statistics for %s", scenario)

	b, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read reference file %s: %w", path, err)
		logger.Printf("error while extracting reference band statistics: %v", err)
		return nil, err
	}

	var records []record
	if err := json.Unmarshal(b, &records); err != nil {
		perr := &ParseError{Path: path, Err: err}
		logger.Printf("error while extracting reference band statistics: %v", perr)
		return nil, perr
	}

	for _, rec := range records {
		if rec.ScenarioName == scenario {
			return rec.ReferenceData, nil
		}
	}

	nfe := &NotFoundError{Scenario: scenario, File: path}
	logger.Printf("error while extracting reference band statistics: %v", nfe)
	return nil, nfe
}
