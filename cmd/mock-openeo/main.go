package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/openeo-contrib/raster-regression/internal/mockopeneo"
)

func main() {
	addr := defaultString("MOCK_OPENEO_ADDR", ":8080")
	resultsDir := defaultString("MOCK_OPENEO_RESULTS_DIR", "/data/results")
	finishAfter := defaultString("MOCK_OPENEO_FINISH_AFTER_POLLS", "1")

	fs := flag.NewFlagSet("mock-openeo", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&resultsDir, "results-dir", resultsDir, "Directory containing canned results named <job title>.nc")
	fs.StringVar(&finishAfter, "finish-after-polls", finishAfter, "Status polls a started job spends running before finishing")
	_ = fs.Parse(os.Args[1:])

	srv := mockopeneo.New(resultsDir)
	if n, err := strconv.Atoi(strings.TrimSpace(finishAfter)); err == nil {
		srv.SetFinishAfterPolls(n)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-openeo listening on %s (results=%s, api root %s)\n", addr, resultsDir, mockopeneo.BasePath)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
