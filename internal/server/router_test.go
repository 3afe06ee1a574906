package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/common/middleware"
	"github.com/telhawk-systems/eventsink/internal/handlers"
	"github.com/telhawk-systems/eventsink/internal/metrics"
	"github.com/telhawk-systems/eventsink/internal/server"
	"github.com/telhawk-systems/eventsink/internal/store/memory"
)

func newRouter(key string) http.Handler {
	h := handlers.New(memory.New(), nil, handlers.WithLogger(logging.Discard()))
	return server.NewRouter(h, server.Options{FunctionKey: key, Logger: logging.Discard()})
}

func TestRouter_Routes(t *testing.T) {
	router := newRouter("")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/test", http.StatusOK},
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/add_item", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestRouter_FunctionKey(t *testing.T) {
	router := newRouter("s3cret")
	body := `{"id":"dev-1","name":"Sensor A"}`

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/add_item", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/add_item", strings.NewReader(body))
	req.Header.Set(middleware.FunctionKeyHeader, "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_CountsRequests(t *testing.T) {
	router := newRouter("")
	counter := metrics.HTTPRequests.WithLabelValues("/api/test", "200")
	before := testutil.ToFloat64(counter)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/test", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
