// Package api exposes the batch service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/Niakdashit/Tirages-jeux/app"
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
	"github.com/Niakdashit/Tirages-jeux/ports"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeZip  = "application/zip"
	contentTypeJSON = "application/json"

	multipartMemory = 32 << 20
	requestTimeout  = 2 * time.Minute
	defaultMaxJobs  = 4
)

// Processor runs treatments; *app.BatchService satisfies it
type Processor interface {
	Process(ctx context.Context, req app.BatchRequest, files []app.SourceFile) (app.BatchReport, error)
	ProcessFile(ctx context.Context, req app.BatchRequest, file app.SourceFile) (app.FileResult, error)
}

// Defaults fills request parameters the client leaves out
type Defaults struct {
	Year           int
	Quota          int
	TemplateWidths contact.ColumnWidths
	MaxUploadBytes int64
	// MaxJobs bounds concurrent processing requests; excess requests wait
	MaxJobs int
}

// Server routes HTTP requests to the processor
type Server struct {
	router    *chi.Mux
	processor Processor
	defaults  Defaults
	validate  *validator.Validate
	jobs      *semaphore.Weighted
	ledger    ports.RunLedger
	log       *logger.Logger
	now       func() time.Time
}

// NewServer creates the HTTP API
func NewServer(processor Processor, defaults Defaults, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if defaults.MaxJobs <= 0 {
		defaults.MaxJobs = defaultMaxJobs
	}
	s := &Server{
		router:    chi.NewRouter(),
		processor: processor,
		defaults:  defaults,
		validate:  validator.New(),
		jobs:      semaphore.NewWeighted(int64(defaults.MaxJobs)),
		log:       log,
		now:       time.Now,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// WithLedger exposes the run audit trail on GET /v1/runs
func (s *Server) WithLedger(ledger ports.RunLedger) *Server {
	s.ledger = ledger
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.accessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/process/{treatment}", s.handleProcess)
		r.Post("/batches/{treatment}", s.handleBatch)
		r.Get("/runs", s.handleRuns)
	})
}

// accessLog logs method, path, status and elapsed time of every request
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Infow("[HTTP] request done",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
