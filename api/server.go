package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kanghyki/badang-post-office/pkg/config"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

// Server hosts the worker's HTTP surface.
type Server struct {
	httpServer *http.Server
	logg       *logger.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, logg *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logg: logg,
	}
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logg.Info(s.logg.WithField(ctx, "addr", s.httpServer.Addr), "http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
