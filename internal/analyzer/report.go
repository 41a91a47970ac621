package analyzer

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
)

// Point is one sample of a time series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Report bundles everything the outputs need: the summary, the raw
// latency trace and its smoothed overlay.
type Report struct {
	Summary  Summary `json:"summary"`
	Window   int     `json:"window"`
	Lines    int     `json:"lines"`
	Skipped  int     `json:"skipped"`
	Dropped  int     `json:"dropped"`
	Raw      []Point `json:"-"`
	Smoothed []Point `json:"-"`
}

// Analyze computes the report for a dataset. window < 1 selects
// DefaultWindow.
func Analyze(ds *Dataset, window int) *Report {
	if window < 1 {
		window = DefaultWindow
	}

	latencies := ds.Latencies()
	raw := make([]Point, len(ds.Records))
	for i, r := range ds.Records {
		raw[i] = Point{Time: r.Timestamp, Value: r.LatencyMs}
	}

	var smoothed []Point
	if avg := MovingAverage(latencies, window); avg != nil {
		smoothed = make([]Point, len(avg))
		for i, v := range avg {
			smoothed[i] = Point{Time: ds.Records[i+window-1].Timestamp, Value: v}
		}
	}

	return &Report{
		Summary:  Summarize(ds.Records),
		Window:   window,
		Lines:    ds.Lines,
		Skipped:  ds.Skipped,
		Dropped:  ds.Dropped,
		Raw:      raw,
		Smoothed: smoothed,
	}
}

// WriteText prints the human readable summary.
func WriteText(w io.Writer, r *Report) error {
	s := r.Summary
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("Parsed %d requests from log.\n", s.Count)
	if r.Skipped > 0 || r.Dropped > 0 {
		printf("Ignored %d unmatched and %d malformed lines.\n", r.Skipped, r.Dropped)
	}
	printf("\n=== Summary ===\n")
	printf("Min latency: %.2f ms\n", s.MinMs)
	printf("Avg latency: %.2f ms\n", s.AvgMs)
	printf("P95 latency: %.2f ms\n", s.P95Ms)
	printf("Max latency: %.2f ms\n", s.MaxMs)
	printf("Positive: %d, Negative: %d\n", s.Positive(), s.Negative())

	// Any other labels the service returned, in stable order
	var others []string
	for label := range s.ResultCounts {
		if label != outcome.ResultPositive && label != outcome.ResultNegative {
			others = append(others, label)
		}
	}
	sort.Strings(others)
	for _, label := range others {
		printf("%s: %d\n", label, s.ResultCounts[label])
	}
	return err
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
