package analyzer

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
	apperrors "github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

func line(ts time.Time, result string, latency time.Duration) string {
	q := true
	return outcome.FormatLine(outcome.Success(ts, "some review text", result, latency, &q), outcome.DefaultExcerptLen)
}

var base = time.Date(2025, 10, 7, 15, 45, 12, 0, time.Local)

func TestParse_RoundTrip(t *testing.T) {
	input := strings.Join([]string{
		line(base, "positive", 10*time.Millisecond),
		line(base.Add(time.Second), "negative", 20*time.Millisecond),
		line(base.Add(2*time.Second), "positive", 30*time.Millisecond),
	}, "\n") + "\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ds.Records, 3)

	s := Summarize(ds.Records)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 10, s.MinMs, 1e-9)
	assert.InDelta(t, 30, s.MaxMs, 1e-9)
	assert.InDelta(t, 20, s.AvgMs, 1e-9)
	assert.Equal(t, 2, s.Positive())
	assert.Equal(t, 1, s.Negative())
	assert.True(t, ds.Records[1].Timestamp.Equal(base.Add(time.Second)))
}

func TestParse_ErrorLinesSkipped(t *testing.T) {
	failed := outcome.Failure(base, "text", time.Second, fmt.Errorf("connection refused")).Line()
	input := failed + "\n" + line(base, "negative", 5*time.Millisecond) + "\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, ds.Records, 1)
	assert.Equal(t, 1, ds.Skipped)
	assert.Equal(t, 2, ds.Lines)
}

func TestParse_ToleratesGarbage(t *testing.T) {
	var b strings.Builder
	want := 0
	for i := 0; i < 30; i++ {
		if i%3 == 2 {
			b.WriteString("this line is garbage | Result: | nothing here\n")
			continue
		}
		b.WriteString(line(base.Add(time.Duration(i)*time.Second), "positive", time.Duration(i+1)*time.Millisecond))
		b.WriteString("\n")
		want++
	}

	ds, err := Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, ds.Records, want)
	assert.Equal(t, 10, ds.Skipped)
	assert.Equal(t, 0, ds.Dropped)
}

func TestParse_BadTimestampDropped(t *testing.T) {
	input := "[not a time] Text: x | Result: positive | Latency: 12.00ms\n" +
		line(base, "positive", 12*time.Millisecond) + "\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, ds.Records, 1)
	assert.Equal(t, 1, ds.Dropped)
}

func TestParse_MillisecondTimestamp(t *testing.T) {
	input := "[2025-10-07 15:45:12.123] Text: x | Result: negative | Latency: 7.5ms\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, 123*time.Millisecond, time.Duration(ds.Records[0].Timestamp.Nanosecond()))
	assert.InDelta(t, 7.5, ds.Records[0].LatencyMs, 1e-9)
}

func TestParse_AnyFractionPrecision(t *testing.T) {
	input := "[2025-10-07 15:45:12.1234] Text: x | Result: positive | Latency: 3.0ms\n" +
		"[2025-10-07 15:45:12.12] Text: y | Result: negative | Latency: 4.0ms\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ds.Records, 2)
	assert.Equal(t, 0, ds.Dropped)
	assert.Equal(t, 123400000, ds.Records[0].Timestamp.Nanosecond())
	assert.Equal(t, 120000000, ds.Records[1].Timestamp.Nanosecond())
}

func TestParse_ExtraSegments(t *testing.T) {
	input := "[2025-10-07 15:45:12.123456] Text: x | Result: positive | Q: false | Node: a | Latency: 1.25ms\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "positive", ds.Records[0].Result)
}

func TestParse_Empty(t *testing.T) {
	ds, err := Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoData)
	assert.True(t, apperrors.IsNoData(err))
	assert.Empty(t, ds.Records)

	ds, err = Parse(strings.NewReader("garbage\nmore garbage\n"))
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 2, ds.Skipped)
}

func TestParse_LongLineSkipped(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+10)
	input := long + "\n" + line(base, "positive", time.Millisecond) + "\n"

	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, ds.Records, 1)
	assert.Equal(t, 1, ds.Skipped)
}

func TestParse_LastLineWithoutNewline(t *testing.T) {
	ds, err := Parse(strings.NewReader(line(base, "positive", time.Millisecond)))
	require.NoError(t, err)
	assert.Len(t, ds.Records, 1)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("reads records", func(t *testing.T) {
		path := filepath.Join(dir, "sim.log")
		require.NoError(t, os.WriteFile(path, []byte(line(base, "negative", 3*time.Millisecond)+"\n"), 0644))

		ds, err := ParseFile(path)
		require.NoError(t, err)
		assert.Len(t, ds.Records, 1)
	})

	t.Run("empty file is no data", func(t *testing.T) {
		path := filepath.Join(dir, "empty.log")
		require.NoError(t, os.WriteFile(path, nil, 0644))

		_, err := ParseFile(path)
		assert.True(t, stderrors.Is(err, ErrNoData))
		assert.Equal(t, apperrors.CodeNoData, apperrors.CodeOf(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ParseFile(filepath.Join(dir, "missing.log"))
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})
}

func TestPercentile(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[99-i] = float64(i + 1) // unsorted on purpose
	}

	assert.InDelta(t, 95.05, Percentile(values, 95), 1e-9)
	assert.InDelta(t, 50.5, Percentile(values, 50), 1e-9)
	assert.InDelta(t, 1, Percentile(values, 0), 1e-9)
	assert.InDelta(t, 100, Percentile(values, 100), 1e-9)
	assert.Equal(t, float64(100), values[0], "input must not be reordered")

	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 42.0, Percentile([]float64{42}, 95))
}

func TestMovingAverage(t *testing.T) {
	values := make([]float64, 25)
	for i := range values {
		values[i] = float64(i * i)
	}

	avg := MovingAverage(values, 10)
	require.Len(t, avg, len(values)-9)

	for i, got := range avg {
		var sum float64
		for _, v := range values[i : i+10] {
			sum += v
		}
		assert.InDelta(t, sum/10, got, 1e-9, "point %d", i)
	}

	assert.Nil(t, MovingAverage(values[:9], 10))
	assert.Len(t, MovingAverage(values[:10], 10), 1)
	assert.Nil(t, MovingAverage(values, 0))
}

func TestAnalyze(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, line(base.Add(time.Duration(i)*time.Second), "positive", time.Duration(i+1)*time.Millisecond))
	}
	ds, err := Parse(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)

	r := Analyze(ds, 0)
	assert.Equal(t, DefaultWindow, r.Window)
	assert.Len(t, r.Raw, 12)
	require.Len(t, r.Smoothed, 3)
	// Smoothed points align with the last sample of their window
	assert.True(t, r.Smoothed[0].Time.Equal(base.Add(9*time.Second)))
	assert.InDelta(t, 5.5, r.Smoothed[0].Value, 1e-9)
	assert.True(t, r.Summary.Start.Equal(base))
	assert.True(t, r.Summary.End.Equal(base.Add(11*time.Second)))
}

func TestWriteText(t *testing.T) {
	input := strings.Join([]string{
		line(base, "positive", 10*time.Millisecond),
		line(base, "negative", 20*time.Millisecond),
		line(base, "neutral", 30*time.Millisecond),
	}, "\n")
	ds, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Analyze(ds, 10)))

	out := buf.String()
	assert.Contains(t, out, "Parsed 3 requests from log.")
	assert.Contains(t, out, "=== Summary ===")
	assert.Contains(t, out, "Min latency: 10.00 ms")
	assert.Contains(t, out, "Avg latency: 20.00 ms")
	assert.Contains(t, out, "Max latency: 30.00 ms")
	assert.Contains(t, out, "Positive: 1, Negative: 1")
	assert.Contains(t, out, "neutral: 1")
}

func TestWriteJSON(t *testing.T) {
	ds, err := Parse(strings.NewReader(line(base, "positive", 10*time.Millisecond)))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Analyze(ds, 10)))

	var decoded struct {
		Summary Summary `json:"summary"`
		Window  int     `json:"window"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Summary.Count)
	assert.Equal(t, 1, decoded.Summary.ResultCounts["positive"])
	assert.Equal(t, 0, decoded.Summary.ResultCounts["negative"])
	assert.Equal(t, 10, decoded.Window)
}
