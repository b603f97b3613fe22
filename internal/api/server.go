// Package api serves the read side of the lead store over HTTP, plus a
// manual "run now" trigger and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/store"
)

// Launcher starts a background run. *ingest.Engine satisfies it.
type Launcher interface {
	Launch(ctx context.Context, period model.Period, src collect.Source, opts ingest.RunOptions) (string, <-chan ingest.RunResult, error)
}

// Options wires the optional parts of the server.
type Options struct {
	// Launcher and Sources enable POST /runs. Without them it returns 503.
	Launcher Launcher
	Sources  func(period model.Period) (collect.Source, error)
	// Metrics is mounted at /metrics when set.
	Metrics        http.Handler
	AllowedOrigins []string
	// BaseContext bounds runs started over HTTP. Defaults to Background.
	BaseContext context.Context
	Now         func() time.Time
}

// Server holds the handlers' dependencies.
type Server struct {
	store store.Store
	opts  Options
}

// New builds a Server over st.
func New(st store.Store, opts Options) *Server {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{store: st, opts: opts}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/companies", func(r chi.Router) {
		r.Get("/", s.listCompanies)
		r.Get("/stats", s.companyStats)
		r.Get("/{id}", s.getCompany)
	})
	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", s.listContacts)
		r.Get("/stats", s.contactStats)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Post("/", s.startRun)
		r.Get("/{id}", s.getRun)
		r.Get("/{id}/rejected", s.listRejected)
	})

	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
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
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
