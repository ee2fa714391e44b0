package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_http_requests_total",
		Help: "Backup API requests by route and status",
	}, []string{"method", "route", "status"})

	apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "sitebackup_http_request_duration_seconds",
		Help: "Backup API request latency by route",
		// Deletes and storage checks wait on the destination.
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "route"})

	apiInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitebackup_http_requests_in_flight",
		Help: "Backup API requests currently being served",
	})
)

// Metrics records request counts and latency labelled by chi route
// pattern. Requests that match no route share the "unmatched" label.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiInFlight.Inc()
		defer apiInFlight.Dec()

		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		apiRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		apiDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
