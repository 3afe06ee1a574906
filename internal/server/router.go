package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/common/middleware"
	"github.com/telhawk-systems/eventsink/internal/handlers"
	"github.com/telhawk-systems/eventsink/internal/metrics"
)

// Options configures the router.
type Options struct {
	// FunctionKey guards /api/add_item when set.
	FunctionKey string
	Logger      *logging.Logger
}

// NewRouter wires HTTP routes for eventsink.
func NewRouter(h *handlers.Handler, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	mux := http.NewServeMux()
	route := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, instrument(pattern, handler))
	}

	route("/api/test", http.HandlerFunc(h.Test))
	route("/api/health", http.HandlerFunc(h.Health))
	route("/healthz", http.HandlerFunc(h.Health))
	route("/api/add_item", middleware.FunctionKey(opts.FunctionKey)(http.HandlerFunc(h.AddItem)))
	route("/api/ingest", http.HandlerFunc(h.Ingest))
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(accessLog(logger, mux))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func accessLog(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.DebugContext(r.Context(), "http request",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Status(rec.status),
			logging.Duration(time.Since(start).Milliseconds()),
		)
	})
}
