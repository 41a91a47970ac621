// Package client provides an HTTP client for the sentiment inference endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appctx "github.com/sfarrukhm/sentiment-mlops/internal/pkg/context"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 1 << 20

// Client is an HTTP client for a /predict style endpoint.
type Client struct {
	url        string
	method     string
	userAgent  string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// URL is the full predict endpoint URL.
	URL string

	// Method is GET (query parameter) or POST (JSON body).
	Method string

	// Timeout is the per-request timeout, covering the full body read.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:8000/predict",
		Method:          http.MethodGet,
		Timeout:         30 * time.Second,
		UserAgent:       "load-simulator",
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new inference client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Method == "" {
		cfg.Method = def.Method
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	// Every request of a batch targets the same host, so keep one idle
	// connection per concurrent slot for reuse by the next batch.
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		url:       cfg.URL,
		method:    strings.ToUpper(cfg.Method),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// NewWithHTTPClient creates a client that uses hc for transport.
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	c := New(cfg)
	c.httpClient = hc
	return c
}

// URL returns the predict endpoint URL.
func (c *Client) URL() string {
	return c.url
}

// Method returns the HTTP method used for predictions.
func (c *Client) Method() string {
	return c.method
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// PredictRequest is the payload sent to the endpoint.
type PredictRequest struct {
	Text     string `json:"text"`
	Quantize *bool  `json:"quantize,omitempty"`
}

// Prediction is a validated endpoint response.
type Prediction struct {
	// Sentiment is the returned label. Always non-empty.
	Sentiment string `json:"sentiment"`

	// Quantized echoes the variant flag when the endpoint reports one.
	Quantized *bool `json:"quantized,omitempty"`

	// LatencyMs is the server-side inference time when reported.
	LatencyMs *float64 `json:"latency_ms,omitempty"`
}

// wirePrediction mirrors Prediction with every field optional so that
// missing and mistyped fields can be told apart.
type wirePrediction struct {
	Sentiment *string  `json:"sentiment"`
	Quantized *bool    `json:"quantized"`
	LatencyMs *float64 `json:"latency_ms"`
}

// StatusResponse represents the /ping response.
type StatusResponse struct {
	Status int `json:"status"`
}

// Predict sends one prediction request and validates the response schema.
// Errors are *errors.AppError with CodeTransport, CodeTimeout or
// CodeResponseShape.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	httpReq, err := c.newPredictRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	return DecodePrediction(body)
}

// Ping checks the service health endpoint next to the predict URL.
func (c *Client) Ping(ctx context.Context) (*StatusResponse, error) {
	pingURL, err := siblingURL(c.url, "ping")
	if err != nil {
		return nil, errors.ValidationError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.ResponseShapeError("malformed ping response", err)
	}
	return &resp, nil
}

// DecodePrediction validates a response body: a JSON object with a string
// "sentiment", an optional boolean "quantized" and an optional numeric
// "latency_ms".
func DecodePrediction(body []byte) (*Prediction, error) {
	if err := ValidatePrediction(body); err != nil {
		return nil, err
	}

	var wire wirePrediction
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errors.ResponseShapeError("malformed response body", err)
	}
	if wire.Sentiment == nil {
		return nil, errors.ResponseShapeError("response missing sentiment", nil)
	}
	label := strings.TrimSpace(*wire.Sentiment)
	if label == "" {
		return nil, errors.ResponseShapeError("response has empty sentiment", nil)
	}

	return &Prediction{
		Sentiment: label,
		Quantized: wire.Quantized,
		LatencyMs: wire.LatencyMs,
	}, nil
}

func (c *Client) newPredictRequest(ctx context.Context, pr PredictRequest) (*http.Request, error) {
	switch c.method {
	case http.MethodGet:
		u, err := url.Parse(c.url)
		if err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("invalid url: %v", err))
		}
		q := u.Query()
		q.Set("text", pr.Text)
		if pr.Quantize != nil {
			q.Set("quantize", strconv.FormatBool(*pr.Quantize))
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil

	case http.MethodPost:
		data, err := json.Marshal(pr)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil

	default:
		return nil, errors.ValidationError(fmt.Sprintf("unsupported method: %s", c.method))
	}
}

// do executes a request and returns the full body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if runID := appctx.GetRunID(req.Context()); runID != "" {
		req.Header.Set(appctx.RunIDHeader, runID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.ClassifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.ResponseShapeError(fmt.Sprintf("HTTP %d", resp.StatusCode), nil).
			WithDetail("status", strconv.Itoa(resp.StatusCode)).
			WithDetail("body", truncate(string(body), 200))
	}

	return body, nil
}

func siblingURL(raw, name string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[:i]
	}
	u.Path = path + "/" + name
	u.RawQuery = ""
	return u.String(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
