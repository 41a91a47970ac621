package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	apperrors "github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.RequestsPerSecond != 50 {
		t.Errorf("expected RequestsPerSecond=50, got %f", cfg.RequestsPerSecond)
	}
	if cfg.Burst != 50 {
		t.Errorf("expected Burst=50, got %d", cfg.Burst)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("expected CleanupInterval=1m, got %v", cfg.CleanupInterval)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 2.5})
	defer rl.Stop()

	if rl.burst != 3 {
		t.Errorf("expected burst rounded up to 3, got %d", rl.burst)
	}
	if rl.idleTTL != 5*time.Minute {
		t.Errorf("expected default idle TTL, got %v", rl.idleTTL)
	}
	if rl.Clients() != 0 {
		t.Errorf("expected no clients, got %d", rl.Clients())
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 2, Burst: 2})
	defer rl.Stop()

	client := "192.168.1.100"

	// First 2 requests should be allowed (burst)
	if !rl.Allow(client) || !rl.Allow(client) {
		t.Fatal("expected burst requests to be allowed")
	}

	// Third request should be denied (burst exhausted)
	if rl.Allow(client) {
		t.Error("expected third request to be denied")
	}

	// Wait for a token to refill
	time.Sleep(600 * time.Millisecond)

	if !rl.Allow(client) {
		t.Error("expected request to be allowed after waiting")
	}
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 5, Burst: 5})
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("a") {
			t.Errorf("client a request %d should be allowed", i)
		}
		if !rl.Allow("b") {
			t.Errorf("client b request %d should be allowed", i)
		}
	}

	if rl.Allow("a") || rl.Allow("b") {
		t.Error("both clients should be rate limited")
	}
	if rl.Clients() != 2 {
		t.Errorf("expected 2 clients, got %d", rl.Clients())
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 100, Burst: 100})
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			client := "10.0.0." + strconv.Itoa(n)
			for j := 0; j < 10; j++ {
				rl.Allow(client)
			}
		}(i)
	}
	wg.Wait()

	if rl.Clients() != 10 {
		t.Errorf("expected 10 clients, got %d", rl.Clients())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 2})
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/predict", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/predict", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}

	var resp apperrors.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Code != apperrors.CodeRateLimited {
		t.Errorf("expected code %s, got %s", apperrors.CodeRateLimited, resp.Code)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 10, CleanupInterval: time.Hour, IdleTTL: time.Minute})
	defer rl.Stop()

	base := time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)
	setNow := func(ts time.Time) {
		rl.mu.Lock()
		rl.now = func() time.Time { return ts }
		rl.mu.Unlock()
	}

	setNow(base)
	rl.Allow("old")
	setNow(base.Add(50 * time.Second))
	rl.Allow("fresh")

	setNow(base.Add(90 * time.Second))
	if removed := rl.sweep(); removed != 1 {
		t.Errorf("expected 1 client removed, got %d", removed)
	}
	if rl.Clients() != 1 {
		t.Errorf("expected 1 client left, got %d", rl.Clients())
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "192.168.1.100:12345", nil, "192.168.1.100"},
		{"forwarded for", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, "203.0.113.1"},
		{"real ip", "10.0.0.1:12345", map[string]string{"X-Real-IP": "203.0.113.50"}, "203.0.113.50"},
		{"forwarded wins", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.50"}, "203.0.113.1"},
		{"ipv6", "[2001:db8::1]:12345", nil, "2001:db8::1"},
		{"no port", "pipe", nil, "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
