// Package wire carries JSON requests and responses over plain TCP, one request per connection.
package wire

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/paynet/bank-gateway/business/router"
	"github.com/paynet/bank-gateway/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultMaxMessageSize = 4096

type Handler interface {
	Handle(ctx context.Context, req router.Request) router.Response
}

type ServerConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	HandlerTimeout time.Duration
	MaxMessageSize int64
}

type Server struct {
	handler Handler
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	cfg     ServerConfig
}

func NewServer(handler Handler, logger *zap.SugaredLogger, m *metrics.Metrics, cfg ServerConfig) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{handler: handler, logger: logger, metrics: m, cfg: cfg}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on [%s]", addr)
	}
	s.logger.Infow("Wire server listening.", "address", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is cancelled. It then waits for the connections in
// flight and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	s.metrics.IncOpenConnections()
	defer s.metrics.DecOpenConnections()
	defer conn.Close()

	resp := s.process(ctx, conn)

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.logger.Warnw("Setting write deadline failed.", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warnw("Writing response failed.", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

func (s *Server) process(ctx context.Context, conn net.Conn) router.Response {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return router.Failure("internal error")
	}

	limited := &io.LimitedReader{R: conn, N: s.cfg.MaxMessageSize}
	var req router.Request
	if err := json.NewDecoder(limited).Decode(&req); err != nil {
		// Unread input would reset the connection before the client reads the response.
		_, _ = io.Copy(io.Discard, io.LimitReader(conn, s.cfg.MaxMessageSize))
		if limited.N == 0 {
			return router.Failure("request too large")
		}
		s.logger.Debugw("Decoding request failed.", "remote", conn.RemoteAddr().String(), "error", err)
		return router.Failure("malformed request")
	}

	// Requests in flight complete on shutdown.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HandlerTimeout)
	defer cancel()
	return s.handler.Handle(reqCtx, req)
}
