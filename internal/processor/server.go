package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

const shutdownTimeout = 5 * time.Second

// Server runs an HTTP server tied to a lifecycle context.
type Server struct {
	name   string
	ln     net.Listener
	server *http.Server
	logger logr.Logger
}

// NewServer binds to listen and prepares handler for serving.
func NewServer(name, listen string, handler http.Handler, logger logr.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	return &Server{
		name: name,
		ln:   ln,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.WithValues("server", name, "listen", ln.Addr().String()),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
// It returns nil on a graceful stop.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()
	s.logger.Info("Serving")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			s.logger.Info("Stopped")
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error(err, "HTTP server stopped unexpectedly")
		return err
	}
}
