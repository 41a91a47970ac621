package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sfarrukhm/sentiment-mlops/internal/client"
	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/security"
)

// maxBodyBytes bounds POST /predict bodies.
const maxBodyBytes = 1 << 20

// PredictResponse is the body of a successful /predict call.
type PredictResponse struct {
	Sentiment string  `json:"sentiment"`
	LatencyMs float64 `json:"latency_ms"`
	Quantized *bool   `json:"quantized,omitempty"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Served  int64  `json:"served"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"status": http.StatusOK})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Served:  s.Served(),
	})
}

// handlePredictQuery serves GET /predict?text=...&quantize=true.
func (s *Server) handlePredictQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := client.PredictRequest{Text: q.Get("text")}
	if req.Text == "" {
		errors.WriteError(w, errors.InvalidRequestError("text query parameter is required"))
		return
	}
	if v := q.Get("quantize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errors.WriteError(w, errors.InvalidRequestError("quantize must be a boolean"))
			return
		}
		req.Quantize = &b
	}

	s.predict(w, r, req)
}

// handlePredictJSON serves POST /predict with a {"text", "quantize"} body.
func (s *Server) handlePredictJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		errors.WriteError(w, errors.InvalidRequestError("failed to read body"))
		return
	}
	if len(body) > maxBodyBytes {
		errors.WriteError(w, errors.InvalidRequestError("body too large"))
		return
	}
	if err := client.ValidatePredictRequest(body); err != nil {
		errors.WriteError(w, err)
		return
	}

	var req client.PredictRequest
	if err := json.Unmarshal(body, &req); err != nil {
		errors.WriteError(w, errors.InvalidRequestError("invalid request body"))
		return
	}

	s.predict(w, r, req)
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request, req client.PredictRequest) {
	start := time.Now()

	if err := security.ValidateText(req.Text, security.MaxTextBytes); err != nil {
		errors.WriteError(w, errors.InvalidRequestError(err.Error()))
		return
	}

	delay, fail := s.draw()
	if err := sleep(r.Context(), delay); err != nil {
		// Client went away; nothing useful can be written.
		return
	}
	if fail {
		s.log.Debug("Injected prediction failure", "text", security.SanitizeForLogWithLength(req.Text, 60))
		errors.WriteError(w, errors.ServiceUnavailableError("model"))
		return
	}

	s.served.Add(1)
	writeJSON(w, http.StatusOK, PredictResponse{
		Sentiment: Classify(req.Text),
		LatencyMs: outcome.DurationMs(time.Since(start)),
		Quantized: req.Quantize,
	})
}

// draw picks the artificial delay and whether this prediction fails.
func (s *Server) draw() (time.Duration, bool) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	delay := s.cfg.Delay
	if s.cfg.Jitter > 0 {
		delay += time.Duration(s.rng.Int64N(int64(s.cfg.Jitter) + 1))
	}
	fail := s.cfg.FailRate > 0 && s.rng.Float64() < s.cfg.FailRate
	return delay, fail
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
