package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/assign"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/metrics"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/service"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
)

type Server struct {
	service *service.DirectoryService
	session *assign.Session
	tiles   *tiles.Server
	router  chi.Router
	logger  *slog.Logger
}

func NewServer(svc *service.DirectoryService, session *assign.Session, tileSrv *tiles.Server, logger *slog.Logger) *Server {
	s := &Server{
		service: svc,
		session: session,
		tiles:   tileSrv,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.requestLogger)
	r.Use(securityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/tiles/{layer}/{z}/{x}/{y}", s.handleTile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/markers", s.handleMarkers)
		r.Get("/boundaries", s.handleBoundaries)
		r.Get("/resources", s.handleResources)
		r.Put("/filters", s.handleSetFilters)
		r.Put("/highlight", s.handleSetHighlight)

		r.Get("/households", s.handleListHouseholds)
		r.Post("/households", s.handleCreateHousehold)
		r.Get("/households/{id}", s.handleGetHousehold)
		r.Patch("/households/{id}", s.handleUpdateHousehold)
		r.Delete("/households/{id}", s.handleDeleteHousehold)

		r.Get("/regions", s.handleListRegions)
		r.Post("/regions", s.handleCreateRegion)
		r.Put("/regions/{name}", s.handleRenameRegion)
		r.Delete("/regions/{name}", s.handleDeleteRegion)
		r.Get("/clusters", s.handleListClusters)
		r.Post("/clusters", s.handleCreateCluster)
		r.Post("/clusters/reassign", s.handleReassignCluster)
		r.Delete("/clusters/{cluster}", s.handleDeleteCluster)
		r.Post("/assign", s.handleBulkAssign)

		r.Get("/changes", s.handleListChanges)
		r.Post("/undo", s.handleUndo)
		r.Post("/save", s.handleSave)
		r.Post("/import", s.handleImport)
		r.Get("/export", s.handleExport)

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", s.handleGetSelection)
			r.Post("/mode", s.handleStartMode)
			r.Post("/toggle", s.handleToggle)
			r.Post("/rect", s.handleSelectRect)
			r.Post("/apply", s.handleApply)
			r.Post("/cancel", s.handleCancel)
		})

		r.Route("/tiles", func(r chi.Router) {
			r.Get("/layers", s.handleLayers)
			r.Get("/missing", s.handleMissingReport)
			r.Delete("/missing", s.handleClearMissing)
			r.Post("/revalidate", s.handleRevalidate)
			r.Get("/manifest/{layer}", s.handleManifest)
		})
	})
}

// securityHeaders sets browser security headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' https://unpkg.com; "+
				"style-src 'self' 'unsafe-inline' https://unpkg.com; "+
				"img-src 'self' data: blob:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start).Milliseconds()
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDurationMs.WithLabelValues(route).Observe(float64(elapsed))

		// Tile requests are too chatty for info.
		level := slog.LevelInfo
		if route == "/tiles/{layer}/{z}/{x}/{y}" && rec.status < 500 {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed,
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
