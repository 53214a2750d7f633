// Package api exposes the HTTP boundary: uploads, signed media access,
// signed URL minting and reprocessing.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/auth"
	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/ingest"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
	"github.com/dharsanguruparan/PhotoDrop/internal/repository"
	"github.com/dharsanguruparan/PhotoDrop/internal/signing"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck = func(ctx context.Context) error

// Deps are the collaborators of the Server.
type Deps struct {
	Config *config.Config
	Ingest *ingest.Controller
	Repo   repository.PhotoStore
	Store  storage.ObjectStore
	Queue  queue.Enqueuer
	Signer *signing.Signer
	Auth   *auth.Authenticator
	Logger *zap.Logger
	Checks map[string]HealthCheck
}

// Server exposes HTTP endpoints for uploads and derivative access.
type Server struct {
	Deps
	now func() time.Time
}

// New constructs a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{Deps: deps, now: time.Now}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/media/*", s.handleMedia)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware)
		r.Post("/photos", s.handleUpload)
		r.Get("/photos/{id}/urls", s.handleURLs)
		r.Post("/photos/{id}/reprocess", s.handleReprocess)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Config.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.Logger.Info("api listening", zap.String("address", s.Config.Address))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range s.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	render.Status(r, code)
	render.JSON(w, r, status)
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Success: false, Error: msg, Code: code})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) mediaBase() string {
	return strings.TrimSuffix(s.Config.Signing.PublicBaseURL, "/") + "/media"
}
