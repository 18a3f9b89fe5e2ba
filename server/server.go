// Package server exposes Intcode execution over Connect, gRPC and gRPC-Web
// on a single HTTP port.
package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/intcode/store"
)

var log = commonlog.GetLogger("intcode.server")

// IntcodeServer serves the intcode service. Plain HTTP/1.1 clients use the
// Connect protocol; HTTP/2 cleartext (h2c) carries gRPC.
type IntcodeServer struct {
	pool *Pool
	svc  *Service
	mux  *http.ServeMux
}

// ServerOption configures an IntcodeServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers     int
	timeout     time.Duration
	memoryLimit int
	runs        *store.RunStore
}

// WithWorkers sets how many programs may run concurrently.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithRunTimeout bounds every run. Zero means no limit beyond the request's
// own deadline.
func WithRunTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.timeout = d }
}

// WithMemoryLimit caps the memory of every engine the server starts.
func WithMemoryLimit(words int) ServerOption {
	return func(c *serverConfig) { c.memoryLimit = words }
}

// WithRunStore journals every run to s.
func WithRunStore(s *store.RunStore) ServerOption {
	return func(c *serverConfig) { c.runs = s }
}

// New creates an IntcodeServer.
func New(opts ...ServerOption) *IntcodeServer {
	cfg := &serverConfig{
		workers: runtime.GOMAXPROCS(0),
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool := NewPool(cfg.workers)
	svc := NewService(pool, cfg.runs, cfg.timeout, cfg.memoryLimit)
	s := &IntcodeServer{
		pool: pool,
		svc:  svc,
		mux:  http.NewServeMux(),
	}

	codecs := []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithCodec(CBORCodec{}),
	}
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run, codecs...))
	s.mux.Handle(RunFeedbackProcedure, connect.NewUnaryHandler(RunFeedbackProcedure, svc.RunFeedback, codecs...))
	s.mux.Handle(StreamProcedure, connect.NewServerStreamHandler(StreamProcedure, svc.Stream, codecs...))
	s.mux.Handle(ListRunsProcedure, connect.NewUnaryHandler(ListRunsProcedure, svc.ListRuns, codecs...))
	s.mux.Handle(GetRunProcedure, connect.NewUnaryHandler(GetRunProcedure, svc.GetRun, codecs...))

	return s
}

// Handler returns the service handler with h2c support.
func (s *IntcodeServer) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// ListenAndServe serves on addr ("host:port" or ":port") until ctx is done.
func (s *IntcodeServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdown)
		case <-stopped:
		}
	}()

	log.Info("intcode server listening", "address", addr, "workers", s.pool.Size(),
		"run", "http://"+addr+RunProcedure)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the worker pool.
func (s *IntcodeServer) Stop() {
	s.pool.Stop()
}
