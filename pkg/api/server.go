package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/api/handlers"
	"github.com/cbodonnell/flywheel-stats/pkg/api/middleware"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

const HealthPath = "/health"

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port    int
	TLS     *TLSConfig
	Service handlers.StatsService
	CORS    bool
	APIKey  string
	Version string
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewHandler builds the routed and wrapped handler served by the APIServer
func NewHandler(opts NewAPIServerOptions) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(HealthPath, handlers.HandleHealth(opts.Version, opts.Service)).Methods(http.MethodGet)
	r.HandleFunc("/stats/server", handlers.HandleServerStats(opts.Service)).Methods(http.MethodGet)
	r.HandleFunc("/stats/player/{identifier}", handlers.HandlePlayerStats(opts.Service)).Methods(http.MethodGet)
	r.HandleFunc("/stats/online", handlers.HandleOnline(opts.Service)).Methods(http.MethodGet)
	r.HandleFunc("/stats/leaderboard/{counter}", handlers.HandleLeaderboard(opts.Service)).Methods(http.MethodGet)
	r.NotFoundHandler = handlers.HandleNotFound()
	r.MethodNotAllowedHandler = handlers.HandleMethodNotAllowed()

	var h http.Handler = r
	h = middleware.NewAPIKeyMiddleware(opts.APIKey, HealthPath)(h)
	h = middleware.NewCORSMiddleware(opts.CORS)(h)
	h = middleware.NewRecoverMiddleware()(h)
	h = gzhttp.GzipHandler(h)
	h = middleware.NewLoggingMiddleware()(h)
	h = middleware.NewRequestIDMiddleware()(h)
	return h
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
