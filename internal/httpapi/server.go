// README: HTTP server lifecycle around the router.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Server struct {
	log  *zap.SugaredLogger
	http *http.Server
}

func NewServer(addr string, handler http.Handler, log *zap.SugaredLogger) *Server {
	return &Server{
		log: log,
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Infow("http listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
