// Package api exposes batch control and stored records over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/batch"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/store"
)

// BatchRunner is the orchestrator surface the API drives.
type BatchRunner interface {
	Start(ctx context.Context, items []model.Period, maxWorkers int) (*batch.Job, error)
	Poll() *model.BatchSnapshot
	Stop() bool
}

// Records is the read side of the store.
type Records interface {
	GetRecord(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error)
	ListRecords(ctx context.Context, filter store.RecordFilter) ([]model.RecordSummary, error)
	GetJob(ctx context.Context, id string) (*model.BatchSnapshot, error)
}

// CompanyLister lists the companies the portal source can resolve.
type CompanyLister func(ctx context.Context) ([]model.Company, error)

// Dependencies are the collaborators behind the handlers.
type Dependencies struct {
	Batch     BatchRunner
	Records   Records
	Companies CompanyLister
}

// Config controls the HTTP server.
type Config struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// NewRouter builds the chi router.
func NewRouter(deps Dependencies, corsOrigins []string) http.Handler {
	h := &handler{deps: deps}

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/batch", h.startBatch)
		r.Get("/batch/status", h.batchStatus)
		r.Post("/batch/stop", h.stopBatch)
		r.Get("/batch/jobs/{id}", h.getJob)
		r.Get("/records", h.listRecords)
		r.Get("/records/{company}/{quarter}/{year}", h.getRecord)
		r.Get("/companies", h.listCompanies)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// Serve runs the API until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, cfg Config, handler http.Handler) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: starting server", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "api: listen")
		}
		return nil
	case <-ctx.Done():
		zap.L().Info("api: shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return eris.Wrap(err, "api: shutdown")
		}
		return nil
	}
}
