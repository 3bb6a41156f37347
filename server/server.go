package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/config"
	"github.com/xhad/doctalk/pkg/document"
	"github.com/xhad/doctalk/pkg/fetcher"
)

type Options struct {
	Config    *config.Config
	Hub       *Hub
	Documents *document.Service
	Fetcher   *fetcher.Fetcher
	Store     types.DocumentSource
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// Server serves the upload API, the WebSocket endpoint and the static
// client.
type Server struct {
	config    *config.Config
	hub       *Hub
	documents *document.Service
	fetcher   *fetcher.Fetcher
	store     types.DocumentSource
	gatherer  prometheus.Gatherer
	log       *zap.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetcher.New()
	}

	return &Server{
		config:    opts.Config,
		hub:       opts.Hub,
		documents: opts.Documents,
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		gatherer:  opts.Gatherer,
		log:       opts.Logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/upload/url", s.handleUploadURL)
	mux.HandleFunc("GET /api/document", s.handleDocument)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if info, err := os.Stat(s.config.Server.StaticDir); err == nil && info.IsDir() {
		mux.Handle("GET /", http.FileServer(http.Dir(s.config.Server.StaticDir)))
	}

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Run serves until ctx is cancelled, then closes all WebSocket connections
// and shuts the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting server", zap.Int("port", s.config.Server.Port), zap.String("environment", s.config.Server.Environment))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
