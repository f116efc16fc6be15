package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit_BlocksAfterQuota(t *testing.T) {
	handler := RateLimit(1, time.Minute)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	request := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:52000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := request("/archive"); got != http.StatusOK {
		t.Fatalf("first request should pass, got %d", got)
	}
	if got := request("/archive"); got != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", got)
	}

	// 探活与指标抓取不受配额影响
	for i := 0; i < 3; i++ {
		if got := request("/healthz"); got != http.StatusOK {
			t.Fatalf("healthz should bypass the limiter, got %d", got)
		}
		if got := request("/metrics"); got != http.StatusOK {
			t.Fatalf("metrics should bypass the limiter, got %d", got)
		}
	}
}
