package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/metrics"
)

// maxJSONBodyBytes and maxImageBodyBytes are spec.md section 6's
// request size caps.
const (
	maxJSONBodyBytes  = 1 << 20       // 1 MiB
	maxImageBodyBytes = 20 * (1 << 20) // 20 MiB
)

// limitBody caps the request body according to its Content-Type, the
// way jordigilh-kubernaut's gateway middleware validates input shape
// before it ever reaches a handler.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int64(maxJSONBodyBytes)
		if isImageContentType(r.Header.Get("Content-Type")) {
			limit = maxImageBodyBytes
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

func isImageContentType(ct string) bool {
	return len(ct) >= 6 && ct[:6] == "image/"
}

// bodyReadError maps a body read/decode failure to the right ferr.Kind:
// http.MaxBytesReader (wired by limitBody) reports an oversized body as
// *http.MaxBytesError, which must surface as spec.md section 7's
// PayloadTooLarge (413), not a generic InvalidArgument (400).
func bodyReadError(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ferr.PayloadTooLarge(msg)
	}
	return ferr.InvalidArgument(msg)
}

// requestMetrics records per-route count and latency, mirroring the
// teacher's metrics.Handler()-at-/metrics convention applied to the
// request path instead of just exposing the registry.
func requestMetrics(routePattern string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timer := metrics.NewTimer()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			metrics.APIRequestsTotal.WithLabelValues(routePattern, strconv.Itoa(sw.status)).Inc()
			timer.ObserveDurationVec(metrics.APIRequestDuration, routePattern)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
