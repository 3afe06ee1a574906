package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFunctionKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		key        string
		header     string
		wantStatus int
	}{
		{name: "disabled", key: "", header: "", wantStatus: http.StatusOK},
		{name: "matching key", key: "s3cret", header: "s3cret", wantStatus: http.StatusOK},
		{name: "missing key", key: "s3cret", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", key: "s3cret", header: "nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/add_item", nil)
			if tt.header != "" {
				req.Header.Set(FunctionKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			FunctionKey(tt.key)(ok).ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
