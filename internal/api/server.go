// Package api exposes the scoring core over a small JSON HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/monitoring"
	"github.com/sells-group/forgescore/internal/pipeline"
)

// Server holds the handler dependencies.
type Server struct {
	pipeline    *pipeline.Pipeline
	collector   *monitoring.Collector
	checker     *monitoring.Checker
	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithChecker serves /v1/status from the checker's latest snapshot when one
// is available.
func WithChecker(c *monitoring.Checker) Option {
	return func(s *Server) { s.checker = c }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates an API server over p.
func NewServer(p *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:    p,
		collector:   monitoring.NewCollector(p.Store()),
		corsOrigins: []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(api chi.Router) {
		api.Post("/evidence", s.handleIngest)
		api.Post("/evidence/{id}/supersede", s.handleSupersede)

		api.Route("/builders/{id}", func(b chi.Router) {
			b.Get("/evidence", s.handleListEvidence)
			b.Get("/score", s.handleScore)
			b.Get("/history", s.handleHistory)
			b.Post("/recompute", s.handleRecompute)
		})

		api.Post("/deliveries/verify", s.handleVerify)
		api.Get("/jobs/{id}", s.handleJob)
		api.Get("/status", s.handleStatus)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
