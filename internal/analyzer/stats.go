package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
)

// DefaultWindow is the moving average window.
const DefaultWindow = 10

// Summary holds the statistics of one dataset.
type Summary struct {
	Count        int            `json:"count"`
	MinMs        float64        `json:"min_ms"`
	AvgMs        float64        `json:"avg_ms"`
	P95Ms        float64        `json:"p95_ms"`
	MaxMs        float64        `json:"max_ms"`
	ResultCounts map[string]int `json:"result_counts"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
}

// Positive returns the number of positive results.
func (s Summary) Positive() int { return s.ResultCounts[outcome.ResultPositive] }

// Negative returns the number of negative results.
func (s Summary) Negative() int { return s.ResultCounts[outcome.ResultNegative] }

// Summarize computes min/avg/p95/max latency and result counts. The
// positive and negative counts are always present. An empty input yields a
// zero summary.
func Summarize(records []outcome.LogRecord) Summary {
	s := Summary{
		ResultCounts: map[string]int{
			outcome.ResultPositive: 0,
			outcome.ResultNegative: 0,
		},
	}
	if len(records) == 0 {
		return s
	}

	values := make([]float64, len(records))
	var sum float64
	s.MinMs = math.Inf(1)
	s.MaxMs = math.Inf(-1)
	s.Start = records[0].Timestamp
	s.End = records[0].Timestamp

	for i, r := range records {
		values[i] = r.LatencyMs
		sum += r.LatencyMs
		s.MinMs = math.Min(s.MinMs, r.LatencyMs)
		s.MaxMs = math.Max(s.MaxMs, r.LatencyMs)
		s.ResultCounts[r.Result]++
		if r.Timestamp.Before(s.Start) {
			s.Start = r.Timestamp
		}
		if r.Timestamp.After(s.End) {
			s.End = r.Timestamp
		}
	}

	s.Count = len(records)
	s.AvgMs = sum / float64(len(records))
	s.P95Ms = Percentile(values, 95)
	return s
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	h := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(h))
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// MovingAverage returns the trailing mean of every full window of values.
// Point i of the result averages values[i : i+window], so it aligns with
// the timestamp of values[i+window-1]. It returns nil when there are fewer
// than window values.
func MovingAverage(values []float64, window int) []float64 {
	if window < 1 || len(values) < window {
		return nil
	}

	out := make([]float64, 0, len(values)-window+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}
