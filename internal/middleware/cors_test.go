package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS_AllowsConfiguredOriginAndRangeHeaders(t *testing.T) {
	handler := CORS([]string{"http://player.example"})(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/stream/abc", nil)
	req.Header.Set("Origin", "http://player.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://player.example" {
		t.Fatalf("unexpected Allow-Origin %q", got)
	}
	// 跨域播放器需要发送 Range 并读取区间响应头
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Range") {
		t.Fatalf("Allow-Headers should include Range, got %q", got)
	}
	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, header := range []string{"Content-Range", "Accept-Ranges", "Content-Length"} {
		if !strings.Contains(exposed, header) {
			t.Fatalf("Expose-Headers should include %s, got %q", header, exposed)
		}
	}
}

func TestCORS_IgnoresUnknownOrigin(t *testing.T) {
	handler := CORS([]string{"http://player.example"})(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/archive", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin must not be allowed, got %q", got)
	}
}
