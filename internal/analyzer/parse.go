// Package analyzer turns load simulator log lines back into a latency
// time series and computes summary statistics over it.
package analyzer

import (
	"bufio"
	stderrors "errors"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// MaxLineBytes bounds the memory held for a single line. Longer lines are
// consumed and counted as skipped.
const MaxLineBytes = 64 * 1024

// ErrNoData is returned when no line of the input yields a record.
var ErrNoData = errors.NoDataError("")

// linePattern captures timestamp, result token and latency. Extra "|"
// segments between Result and Latency (such as "Q: true") are tolerated.
var linePattern = regexp.MustCompile(`\[(.*?)\].*?\|\s*Result:\s*(\w+).*?\|\s*Latency:\s*([\d.]+)ms`)

// Dataset is the outcome of a parse.
type Dataset struct {
	// Records holds the parsed lines in file order.
	Records []outcome.LogRecord

	// Lines is the number of lines read.
	Lines int

	// Skipped counts lines that did not match the line pattern.
	Skipped int

	// Dropped counts matched lines whose timestamp or latency did not parse.
	Dropped int
}

// Latencies returns the latency column of the dataset.
func (d *Dataset) Latencies() []float64 {
	out := make([]float64, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.LatencyMs
	}
	return out
}

// Parse reads log lines from r. Lines that do not match are skipped; a
// matched line with a malformed field is dropped. Neither aborts the parse.
// ErrNoData is returned when nothing parsed.
func Parse(r io.Reader) (*Dataset, error) {
	ds := &Dataset{}
	br := bufio.NewReaderSize(r, 4096)

	for {
		line, tooLong, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.CodeParse, "failed to read log", err)
		}

		ds.Lines++
		if tooLong {
			ds.Skipped++
			continue
		}

		rec, matched, ok := ParseLine(line)
		switch {
		case !matched:
			ds.Skipped++
		case !ok:
			ds.Dropped++
		default:
			ds.Records = append(ds.Records, rec)
		}
	}

	if len(ds.Records) == 0 {
		return ds, ErrNoData
	}
	return ds, nil
}

// ParseFile parses the log file at path.
func ParseFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("log file " + path)
		}
		return nil, errors.Wrap(errors.CodeParse, "failed to open log", err)
	}
	defer f.Close()

	ds, err := Parse(f)
	if stderrors.Is(err, ErrNoData) {
		return ds, errors.Wrap(errors.CodeNoData, "no data found in "+path, ErrNoData)
	}
	return ds, err
}

// ParseLine parses a single line. matched reports whether the line has the
// expected structure; ok reports whether its fields were valid.
func ParseLine(line string) (rec outcome.LogRecord, matched, ok bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return outcome.LogRecord{}, false, false
	}

	ts, err := outcome.ParseTimestamp(m[1])
	if err != nil {
		return outcome.LogRecord{}, true, false
	}
	latency, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return outcome.LogRecord{}, true, false
	}

	return outcome.LogRecord{
		Timestamp: ts,
		Result:    m[2],
		LatencyMs: latency,
	}, true, true
}

// readLine returns the next line without its terminator. Lines longer than
// MaxLineBytes are read to the end and reported with tooLong set.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}
