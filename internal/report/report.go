// Package report renders an analyzer report as a self-contained HTML page
// with an inline SVG latency chart.
package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sfarrukhm/sentiment-mlops/internal/analyzer"
	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
)

//go:embed template.html
var pageTemplate string

var page = template.Must(template.New("report").Parse(pageTemplate))

// Chart geometry.
const (
	defaultWidth  = 1000
	defaultHeight = 500
	marginLeft    = 70
	marginRight   = 20
	marginTop     = 20
	marginBottom  = 90

	// MaxTimeTicks bounds the number of labelled time ticks.
	MaxTimeTicks = 10

	// markerLimit is the largest plotted series drawn with point markers.
	markerLimit = 500
)

// DefaultMaxPoints is the plotted point budget per series.
const DefaultMaxPoints = 2000

// Options controls rendering.
type Options struct {
	Title     string
	MaxPoints int // 0 disables downsampling
	Width     int
	Height    int
	Now       func() time.Time
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Title:     "Latency Over Time (with Moving Average)",
		MaxPoints: DefaultMaxPoints,
		Width:     defaultWidth,
		Height:    defaultHeight,
		Now:       time.Now,
	}
}

// Tick is one labelled axis position.
type Tick struct {
	Pos   string
	Label string
}

// Dot is a plotted marker.
type Dot struct {
	X, Y string
}

// ResultCount is one row of the result table.
type ResultCount struct {
	Label string
	Count int
}

type pageData struct {
	Title       string
	Generated   string
	Summary     analyzer.Summary
	Results     []ResultCount
	Window      int
	Downsampled bool
	Plotted     int

	Width, Height            int
	Left, Right, Top, Bottom string
	YLabelX, XLabelY         string
	XTitleX, XTitleY         string
	YTitleY                  string

	XTicks       []Tick
	YTicks       []Tick
	RawPoints    string
	RawDots      []Dot
	Markers      bool
	SmoothPoints string

	LegendX, LegendLineEnd, LegendTextX string
	LegendY, LegendY2                   string
}

// WriteFile renders r into an HTML file at path.
func WriteFile(path string, r *analyzer.Report, opts Options) error {
	var buf bytes.Buffer
	if err := Render(&buf, r, opts); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Render writes the HTML page for r to w.
func Render(w io.Writer, r *analyzer.Report, opts Options) error {
	if r == nil || len(r.Raw) == 0 {
		return fmt.Errorf("report has no samples")
	}
	def := DefaultOptions()
	if opts.Title == "" {
		opts.Title = def.Title
	}
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.MaxPoints < 0 {
		opts.MaxPoints = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	raw := Downsample(r.Raw, opts.MaxPoints)
	smooth := Downsample(r.Smoothed, opts.MaxPoints)

	c := newCanvas(opts.Width, opts.Height, r.Raw, r.Smoothed)

	data := pageData{
		Title:       opts.Title,
		Generated:   opts.Now().Format(time.RFC3339),
		Summary:     r.Summary,
		Results:     resultRows(r.Summary),
		Window:      r.Window,
		Downsampled: len(raw) < len(r.Raw),
		Plotted:     len(raw),

		Width:   opts.Width,
		Height:  opts.Height,
		Left:    num(c.left),
		Right:   num(c.right),
		Top:     num(c.top),
		Bottom:  num(c.bottom),
		YLabelX: num(c.left - 6),
		XLabelY: num(c.bottom + 14),
		XTitleX: num((c.left + c.right) / 2),
		XTitleY: num(float64(opts.Height) - 8),
		YTitleY: num((c.top + c.bottom) / 2),

		RawPoints:    c.polyline(raw),
		Markers:      len(raw) <= markerLimit,
		SmoothPoints: c.polyline(smooth),

		LegendX:       num(c.right - 150),
		LegendLineEnd: num(c.right - 125),
		LegendTextX:   num(c.right - 120),
		LegendY:       num(c.top + 12),
		LegendY2:      num(c.top + 30),
	}
	if data.Markers {
		data.RawDots = c.dots(raw)
	}
	for _, t := range TimeTicks(c.tMin, c.tMax, MaxTimeTicks) {
		data.XTicks = append(data.XTicks, Tick{Pos: num(c.x(t)), Label: t.Format("15:04:05")})
	}
	for _, v := range valueTicks(c.vMax, 5) {
		data.YTicks = append(data.YTicks, Tick{Pos: num(c.y(v)), Label: strconv.FormatFloat(v, 'f', -1, 64)})
	}

	return page.Execute(w, data)
}

// canvas maps time and latency onto SVG coordinates.
type canvas struct {
	left, right, top, bottom float64
	tMin, tMax               time.Time
	vMax                     float64
}

func newCanvas(width, height int, series ...[]analyzer.Point) *canvas {
	c := &canvas{
		left:   marginLeft,
		right:  float64(width - marginRight),
		top:    marginTop,
		bottom: float64(height - marginBottom),
	}
	first := true
	for _, s := range series {
		for _, p := range s {
			if first || p.Time.Before(c.tMin) {
				c.tMin = p.Time
			}
			if first || p.Time.After(c.tMax) {
				c.tMax = p.Time
			}
			c.vMax = math.Max(c.vMax, p.Value)
			first = false
		}
	}
	c.vMax = niceCeil(c.vMax * 1.05)
	return c
}

func (c *canvas) x(t time.Time) float64 {
	span := c.tMax.Sub(c.tMin)
	if span <= 0 {
		return (c.left + c.right) / 2
	}
	return c.left + (c.right-c.left)*float64(t.Sub(c.tMin))/float64(span)
}

func (c *canvas) y(v float64) float64 {
	if c.vMax <= 0 {
		return c.bottom
	}
	return c.bottom - (c.bottom-c.top)*v/c.vMax
}

func (c *canvas) polyline(points []analyzer.Point) string {
	if len(points) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(num(c.x(p.Time)))
		b.WriteByte(',')
		b.WriteString(num(c.y(p.Value)))
	}
	return b.String()
}

func (c *canvas) dots(points []analyzer.Point) []Dot {
	out := make([]Dot, len(points))
	for i, p := range points {
		out[i] = Dot{X: num(c.x(p.Time)), Y: num(c.y(p.Value))}
	}
	return out
}

// Downsample keeps at most about maxPoints evenly spaced points, always
// including the last one. maxPoints <= 0 keeps everything.
func Downsample(points []analyzer.Point, maxPoints int) []analyzer.Point {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}
	idxs := sampleIndices(len(points), maxPoints)
	out := make([]analyzer.Point, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, points[i])
	}
	return out
}

func sampleIndices(n, maxPoints int) []int {
	if n <= 0 {
		return nil
	}
	if maxPoints <= 0 || n <= maxPoints {
		idxs := make([]int, n)
		for i := range idxs {
			idxs[i] = i
		}
		return idxs
	}
	step := int(math.Ceil(float64(n) / float64(maxPoints)))
	if step < 1 {
		step = 1
	}
	idxs := make([]int, 0, maxPoints+1)
	for i := 0; i < n; i += step {
		idxs = append(idxs, i)
	}
	if idxs[len(idxs)-1] != n-1 {
		idxs = append(idxs, n-1)
	}
	return idxs
}

var tickSteps = []time.Duration{
	time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second,
	time.Minute, 2 * time.Minute, 5 * time.Minute, 10 * time.Minute, 15 * time.Minute, 30 * time.Minute,
	time.Hour, 2 * time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour, 24 * time.Hour,
}

// TimeTicks returns at most maxTicks instants between from and to,
// aligned to a whole-second step.
func TimeTicks(from, to time.Time, maxTicks int) []time.Time {
	if maxTicks < 1 {
		maxTicks = 1
	}
	span := to.Sub(from)
	if span <= 0 {
		return []time.Time{from}
	}

	step := tickSteps[len(tickSteps)-1]
	for _, s := range tickSteps {
		if int(span/s)+1 <= maxTicks {
			step = s
			break
		}
	}
	for int(span/step)+1 > maxTicks {
		step *= 2
	}

	// First tick is the first multiple of step at or after from, in local time.
	_, offset := from.Zone()
	shift := time.Duration(offset) * time.Second
	start := from.Add(shift).Truncate(step).Add(-shift)
	if start.Before(from) {
		start = start.Add(step)
	}

	var ticks []time.Time
	for t := start; !t.After(to) && len(ticks) < maxTicks; t = t.Add(step) {
		ticks = append(ticks, t)
	}
	if len(ticks) == 0 {
		ticks = append(ticks, from)
	}
	return ticks
}

func valueTicks(max float64, n int) []float64 {
	if max <= 0 || n < 1 {
		return []float64{0}
	}
	step := max / float64(n)
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, math.Round(step*float64(i)*100)/100)
	}
	return out
}

// niceCeil rounds v up to 1, 2, 2.5 or 5 times a power of ten.
func niceCeil(v float64) float64 {
	if v <= 0 {
		return 1
	}
	exp := math.Pow(10, math.Floor(math.Log10(v)))
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if m*exp >= v {
			return m * exp
		}
	}
	return 10 * exp
}

func resultRows(s analyzer.Summary) []ResultCount {
	rows := []ResultCount{
		{Label: "Positive", Count: s.Positive()},
		{Label: "Negative", Count: s.Negative()},
	}
	var others []string
	for label := range s.ResultCounts {
		if label != outcome.ResultPositive && label != outcome.ResultNegative {
			others = append(others, label)
		}
	}
	sort.Strings(others)
	for _, label := range others {
		rows = append(rows, ResultCount{Label: label, Count: s.ResultCounts[label]})
	}
	return rows
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
