package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware counts and times requests served by the stub target and
// tracks how many were in flight at once. The in-flight peak is what the
// dispatcher tests use to observe its concurrency bound from the server side.
func HTTPMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.httpStarted()
		defer m.httpFinished()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Handler wrote nothing; net/http answers 200.
			status = http.StatusOK
		}
		m.RecordHTTP(r.Method, r.URL.Path, status, time.Since(start).Seconds())
	})
}

// routeLabel folds unknown paths into "other" so that probes against
// random URLs cannot grow the label set.
func routeLabel(path string) string {
	path = strings.TrimSuffix(path, "/")
	switch path {
	case "", "/":
		return "/"
	case "/ping", "/predict", "/metrics", "/healthz":
		return path
	}
	return "other"
}

// statusLabel keeps the statuses the stub actually produces and buckets
// the rest by class.
func statusLabel(code int) string {
	switch code {
	case http.StatusOK,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable:
		return strconv.Itoa(code)
	}
	if code >= 100 && code < 600 {
		return strconv.Itoa(code/100) + "xx"
	}
	return strconv.Itoa(code)
}
