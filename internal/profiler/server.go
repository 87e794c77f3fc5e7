// Package profiler exposes the runtime's pprof endpoints on a loopback
// port for debugging a running bridge. Off unless --profiler-port is given.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog"
)

// readyWait is how long Start watches for an immediate Serve failure before
// declaring the listener healthy.
const readyWait = 100 * time.Millisecond

// Server serves /debug/pprof on localhost.
type Server struct {
	srv      *http.Server
	listener net.Listener
	port     int
	log      zerolog.Logger
}

// New returns an unstarted Server for the given port. Port 0 picks a free
// one; Addr reports the bound address after Start.
func New(port int, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &Server{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		port: port,
		log:  log.With().Str("component", "profiler").Logger(),
	}
}

// Start binds the loopback listener and begins serving. The bridge carries
// a bot token in memory, so the listener never leaves localhost.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("profiler listen: %w", err)
	}
	s.listener = listener
	s.log.Info().Str("addr", listener.Addr().String()).Msg("profiler listening")

	failed := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case err := <-failed:
		return fmt.Errorf("profiler serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readyWait):
		return nil
	}
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("profiler stopping")
	return s.srv.Shutdown(ctx)
}
