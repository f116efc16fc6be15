package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"audioshare/internal/config"
	asmiddleware "audioshare/internal/middleware"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, audioHandler *AudioHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(asmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(asmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(asmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	if audioHandler != nil {
		// 上传、查询与播放是公开端点
		audioHandler.RegisterRoutes(r)

		if cfg.AuthEnabled {
			// 管理端点需要 API Key
			r.Group(func(r chi.Router) {
				r.Use(asmiddleware.APIKeyAuth(cfg.APIKeys))
				audioHandler.RegisterAdminRoutes(r)
			})
		} else {
			// 无需鉴权（开发模式）
			audioHandler.RegisterAdminRoutes(r)
		}
	}

	return r
}
