// Package outcome defines the per-request record and its log line encoding.
//
// The line format is the contract between the load simulator and the log
// analyzer:
//
//	[2025-10-07 15:45:12.123456] Text: <excerpt>                     | Result: positive | Q: true | Latency: 123.45ms
//
// Result labels are left-aligned in an 8 wide column. Failed requests
// carry Result "error", an Error segment, and no Latency
// segment, so they never contribute a latency sample.
package outcome

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// Timestamp layouts accepted in the bracketed prefix.
const (
	// TimestampLayout is the layout written by FormatLine.
	TimestampLayout = "2006-01-02 15:04:05.000000"

	// timestampParseLayout omits the fraction: time.Parse accepts any
	// fractional seconds after the seconds field, so 0 to 9 digits parse.
	timestampParseLayout = "2006-01-02 15:04:05"
)

// Result labels.
const (
	// ResultError marks a failed request.
	ResultError = "error"

	// ResultPositive is the positive-class label of the target service.
	ResultPositive = "positive"

	// ResultNegative is the negative-class label of the target service.
	ResultNegative = "negative"
)

// DefaultExcerptLen is the default width of the text excerpt column.
const DefaultExcerptLen = 30

// RequestOutcome is the result of one dispatched request.
type RequestOutcome struct {
	// Timestamp is when the request was dispatched.
	Timestamp time.Time

	// TextExcerpt is the payload prefix sent.
	TextExcerpt string

	// Result is the returned label, or ResultError.
	Result string

	// LatencyMs is the dispatch-to-response time. Meaningless when Err is set.
	LatencyMs float64

	// Quantized echoes the variant flag when the service reported one.
	Quantized *bool

	// Err is the failure cause, nil on success.
	Err error
}

// Success builds a completed outcome.
func Success(ts time.Time, text, label string, latency time.Duration, quantized *bool) RequestOutcome {
	return RequestOutcome{
		Timestamp:   ts,
		TextExcerpt: text,
		Result:      label,
		LatencyMs:   DurationMs(latency),
		Quantized:   quantized,
	}
}

// Failure builds a failed outcome. A nil err is replaced so that the
// outcome still reports Failed.
func Failure(ts time.Time, text string, latency time.Duration, err error) RequestOutcome {
	if err == nil {
		err = errors.New(errors.CodeInternal, "request failed")
	}
	return RequestOutcome{
		Timestamp:   ts,
		TextExcerpt: text,
		Result:      ResultError,
		LatencyMs:   DurationMs(latency),
		Err:         err,
	}
}

// Failed reports whether the request failed. A service that answers with
// the label "error" still produced a latency sample, so only Err counts.
func (o RequestOutcome) Failed() bool {
	return o.Err != nil
}

// Line encodes the outcome with the default excerpt width.
func (o RequestOutcome) Line() string {
	return FormatLine(o, DefaultExcerptLen)
}

// FormatLine encodes o as a single log line without a trailing newline.
// The excerpt is truncated to width runes and right-padded to width.
func FormatLine(o RequestOutcome, width int) string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(o.Timestamp.Format(TimestampLayout))
	b.WriteString("] Text: ")
	b.WriteString(Excerpt(o.TextExcerpt, width))

	if o.Failed() {
		fmt.Fprintf(&b, " | Result: %-8s | Error: %s", ResultError, singleLine(o.Err.Error()))
		return b.String()
	}

	fmt.Fprintf(&b, " | Result: %-8s", singleLine(o.Result))
	if o.Quantized != nil {
		fmt.Fprintf(&b, " | Q: %t", *o.Quantized)
	}
	fmt.Fprintf(&b, " | Latency: %.2fms", o.LatencyMs)

	return b.String()
}

// Excerpt returns the first width runes of text, padded with spaces to width.
func Excerpt(text string, width int) string {
	text = singleLine(text)
	if width <= 0 {
		return text
	}

	n := 0
	for i := range text {
		if n == width {
			return text[:i]
		}
		n++
	}

	if pad := width - utf8.RuneCountInString(text); pad > 0 {
		return text + strings.Repeat(" ", pad)
	}
	return text
}

// singleLine keeps a field on one line so writes stay line-atomic.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

// DurationMs converts d to fractional milliseconds.
func DurationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// LogRecord is a log line parsed back into typed fields.
type LogRecord struct {
	// Timestamp is the dispatch instant.
	Timestamp time.Time `json:"timestamp"`

	// Result is the free-form result token.
	Result string `json:"result"`

	// LatencyMs is the recorded latency in milliseconds.
	LatencyMs float64 `json:"latency_ms"`
}

// ParseTimestamp parses the bracketed timestamp with any sub-second
// precision, microseconds as written by FormatLine included.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(timestampParseLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
