package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MikeSquared-Agency/tokenpulse/internal/processor"
	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// Runner runs one summarization job.
type Runner interface {
	Run(ctx context.Context, limit int) (*processor.Result, error)
}

// IntelReader serves the dashboard reads.
type IntelReader interface {
	LatestIntel(ctx context.Context) (*store.LatestIntel, error)
	Mentions(ctx context.Context, q store.MentionQuery) ([]store.MentionBucket, error)
}

const (
	readTimeout = 60 * time.Second
	// A summarize request may run as long as its claim keeps the rows.
	summarizeTimeout = processor.DefaultClaimTTL
)

type Options struct {
	Port        int
	JWTSecret   string
	CORSOrigins []string
	Metrics     http.Handler
}

type Server struct {
	router *chi.Mux
	port   int
	runner Runner
	intel  IntelReader
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(runner Runner, intel IntelReader, opts Options, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	s := &Server{
		router: router,
		port:   opts.Port,
		runner: runner,
		intel:  intel,
		logger: logger,
		now:    time.Now,
	}

	router.With(middleware.Timeout(readTimeout)).Get("/health", s.health)
	if opts.Metrics != nil {
		router.With(middleware.Timeout(readTimeout)).Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	router.Group(func(r chi.Router) {
		if opts.JWTSecret != "" {
			r.Use(ServiceRoleMiddleware(opts.JWTSecret))
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(summarizeTimeout))
			r.Get("/summarize", s.summarize)
			r.Post("/summarize", s.summarize)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(readTimeout))
			r.Get("/api/v1/intel/latest", s.latestIntel)
			r.Get("/api/v1/mentions", s.mentions)
		})
	})

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("API server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	limit := processor.ParseLimit(r.URL.Query().Get("limit"))

	res, err := s.runner.Run(r.Context(), limit)
	if err != nil {
		s.logger.Error("summarize failed", "limit", limit, "error", err)
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	if res.NoWork {
		writeText(w, http.StatusOK, "No new messages")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) latestIntel(w http.ResponseWriter, r *http.Request) {
	li, err := s.intel.LatestIntel(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no summary yet"})
		return
	}
	if err != nil {
		s.logger.Error("latest intel failed", "error", err)
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, li)
}

func (s *Server) mentions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	bucket := q.Get("bucket")
	if bucket == "" {
		bucket = store.BucketHour
	}
	var window time.Duration
	switch bucket {
	case store.BucketHour:
		window = 24 * time.Hour
	case store.BucketDay:
		window = 30 * 24 * time.Hour
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket must be hour or day"})
		return
	}

	since := s.now().Add(-window)
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = t
	}

	buckets, err := s.intel.Mentions(r.Context(), store.MentionQuery{
		Bucket: bucket,
		Since:  since,
		Token:  q.Get("token"),
	})
	if err != nil {
		s.logger.Error("mentions failed", "bucket", bucket, "error", err)
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	if buckets == nil {
		buckets = []store.MentionBucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
