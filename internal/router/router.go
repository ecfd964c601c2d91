package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/danqzq/specmarket/internal/auth"
	"github.com/danqzq/specmarket/internal/handlers"
	"github.com/danqzq/specmarket/internal/metrics"
	"github.com/danqzq/specmarket/internal/middleware"
)

// New creates and configures the application router
func New(h *handlers.Handler, authSvc *auth.Service, logger *zap.Logger, corsOrigins []string, staticDir string) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.TraceIDMiddleware)
	r.Use(middleware.RequestLoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(corsOrigins))
	r.Use(metrics.Middleware)
	r.Use(authSvc.Middleware)

	r.Route("/specmarket/v1", func(r chi.Router) {
		r.Get("/listSpecs", h.ListSpecs)
		r.Get("/getSpecDetail", h.GetSpecDetail)
		r.Get("/getSpecRaw", h.GetSpecRaw)
		r.Get("/downloadSpec", h.DownloadSpec)
		r.Get("/getSpecVersion", h.GetSpecVersion)
		r.Get("/getSpecHistory", h.GetSpecHistory)
		r.Get("/listCategories", h.ListCategories)
		r.Get("/listTags", h.ListTags)
		r.Get("/getCategorySpecs", h.GetCategorySpecs)
		r.Get("/getTagSpecs", h.GetTagSpecs)

		r.Post("/uploadSpec", h.UploadSpec)
		r.Put("/updateSpec", h.UpdateSpec)
		r.Delete("/deleteSpec", h.DeleteSpec)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
		})
	})

	r.Get("/healthz", h.Healthz)
	r.Get("/health", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	if staticDir != "" {
		fs := http.FileServer(http.Dir(staticDir))
		r.Handle("/*", fs)
	}

	return r
}
