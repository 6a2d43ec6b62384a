// Package web serves the local query API over HTTP: log search, filter
// discovery, process snapshots, health, and operator triggers for
// retention and Parquet export.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/xtxerr/livedata/internal/export"
	"github.com/xtxerr/livedata/internal/logging"
	"github.com/xtxerr/livedata/internal/storage"
)

// Server is the HTTP query surface. It only ever reads through the storage
// service's query path; writes stay with the collector.
type Server struct {
	storage  *storage.Service
	exporter *export.Exporter
	httpSrv  *http.Server
	log      *slog.Logger
}

// New builds the server on addr. exporter may be nil; the export endpoint
// then reports the feature as unavailable.
func New(addr string, svc *storage.Service, exporter *export.Exporter) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		storage:  svc,
		exporter: exporter,
		log:      logging.Component("web"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	// The API binds to loopback but browsers on the same machine still
	// need CORS for local tooling.
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	engine.GET("/health", s.handleHealth)

	api := engine.Group("/api")
	{
		api.GET("/search", s.handleSearch)
		api.GET("/filters", s.handleFilters)
		api.GET("/processes", s.handleProcesses)
		api.POST("/retention", s.handleRetention)
		api.POST("/export", s.handleExport)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.log.Info("web server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("web server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the routing tree, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}
