package server

import (
	"errors"
	"net"
	"net/http/fcgi"

	"go.uber.org/zap"
)

// ServeFastCGI serves the routes over FastCGI on ln until ln is closed
func (s *Server) ServeFastCGI(ln net.Listener) error {
	s.logger.Info("FastCGI listener started", zap.String("listen", ln.Addr().String()))
	err := fcgi.Serve(ln, s)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
