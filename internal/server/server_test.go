package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfarrukhm/sentiment-mlops/internal/analyzer"
	"github.com/sfarrukhm/sentiment-mlops/internal/client"
	"github.com/sfarrukhm/sentiment-mlops/internal/config"
	"github.com/sfarrukhm/sentiment-mlops/internal/loadsim"
	"github.com/sfarrukhm/sentiment-mlops/internal/metrics"
	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/sink"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Delay = 0
	return cfg
}

func newTestServer(t *testing.T, cfg Config, m *metrics.Metrics) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, nil, m)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop(context.Background())
	})
	return s, ts
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "127.0.0.1:8000", cfg.Addr())
	assert.Equal(t, 20*time.Millisecond, cfg.Delay)
}

func TestConfigFromStub(t *testing.T) {
	sc := config.Default().Stub
	sc.Port = 9100
	sc.Jitter = 5 * time.Millisecond
	sc.FailRate = 0.25

	cfg := ConfigFromStub(sc, "1.2.3")
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 5*time.Millisecond, cfg.Jitter)
	assert.Equal(t, 0.25, cfg.FailRate)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "dev", ConfigFromStub(sc, "").Version)
}

func TestPing(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 200, body["status"])
}

func TestPredict_Get(t *testing.T) {
	s, ts := newTestServer(t, testConfig(), nil)

	resp, err := http.Get(ts.URL + "/predict?text=Pretty+boring&quantize=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body PredictResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, outcome.ResultNegative, body.Sentiment)
	require.NotNil(t, body.Quantized)
	assert.True(t, *body.Quantized)
	assert.GreaterOrEqual(t, body.LatencyMs, 0.0)
	assert.Equal(t, int64(1), s.Served())
}

func TestPredict_Post(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	resp, err := http.Post(ts.URL+"/predict", "application/json",
		bytes.NewBufferString(`{"text": "An absolute masterpiece"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body PredictResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, outcome.ResultPositive, body.Sentiment)
	assert.Nil(t, body.Quantized)
}

func TestPredict_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing text", http.MethodGet, "/predict", "", http.StatusBadRequest},
		{"bad quantize", http.MethodGet, "/predict?text=hi&quantize=maybe", "", http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/predict", `{"text":`, http.StatusBadRequest},
		{"empty text", http.MethodPost, "/predict", `{"text": ""}`, http.StatusBadRequest},
		{"blank text", http.MethodPost, "/predict", `{"text": "   "}`, http.StatusBadRequest},
		{"binary text", http.MethodGet, "/predict?text=a%00%00%00%00b", "", http.StatusBadRequest},
		{"wrong type", http.MethodPost, "/predict", `{"text": "hi", "quantize": "yes"}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/predict", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body errors.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Code)
		})
	}
}

func TestPredict_FailRate(t *testing.T) {
	cfg := testConfig()
	cfg.FailRate = 1
	_, ts := newTestServer(t, cfg, nil)

	resp, err := http.Get(ts.URL + "/predict?text=hello")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPredict_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	_, ts := newTestServer(t, cfg, nil)

	get := func() int {
		resp, err := http.Get(ts.URL + "/predict?text=hello")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusTooManyRequests, get())

	// Ping is not limited
	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPredict_Delay(t *testing.T) {
	cfg := testConfig()
	cfg.Delay = 30 * time.Millisecond
	cfg.Jitter = 10 * time.Millisecond
	_, ts := newTestServer(t, cfg, nil)

	start := time.Now()
	resp, err := http.Get(ts.URL + "/predict?text=hello")
	require.NoError(t, err)
	resp.Body.Close()

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	_, ts := newTestServer(t, testConfig(), m)

	resp, err := http.Get(ts.URL + "/predict?text=great")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(1), health.Served)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeAndStop(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(testConfig(), nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	c := client.New(client.Config{URL: "http://" + l.Addr().String() + "/predict"})
	require.Eventually(t, func() bool {
		_, err := c.Ping(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

// TestDispatcherAgainstStub runs a full dispatch over HTTP and checks the
// concurrency bound on the server side.
func TestDispatcherAgainstStub(t *testing.T) {
	cfg := testConfig()
	cfg.Delay = 10 * time.Millisecond
	cfg.FailRate = 0.2
	m := metrics.New()
	_, ts := newTestServer(t, cfg, m)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			c := client.New(client.Config{URL: ts.URL + "/predict", Method: method, Timeout: 5 * time.Second})
			defer c.CloseIdleConnections()

			s := sink.NewMemorySink()
			d, err := loadsim.New(loadsim.Config{
				Requests:    30,
				Concurrency: 5,
				Corpus:      loadsim.DefaultCorpus(),
			}, loadsim.Options{Client: c, Sink: s})
			require.NoError(t, err)

			stats, err := d.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 30, stats.Issued)
			assert.Len(t, s.Lines(), 30)

			ds, err := analyzer.Parse(strings.NewReader(s.String()))
			if stats.Succeeded > 0 {
				require.NoError(t, err)
				assert.Len(t, ds.Records, stats.Succeeded)
			}
		})
	}

	assert.LessOrEqual(t, m.HTTPMaxInFlight(), int64(5))
}
