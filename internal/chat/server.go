package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/papochat/papo/internal/config"
)

// Server accepts chat client connections and wires the registry, the
// dispatch worker and the liveness supervisor together.
type Server struct {
	cfg config.ChatServer

	registry   *Registry
	dispatcher *Dispatcher
	handler    *Handler
	supervisor *Supervisor

	// pool bounds the number of concurrently served connections; an
	// exhausted pool blocks the accept loop, which is the backpressure.
	pool *semaphore.Weighted

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a chat server over the given repositories.
func NewServer(cfg config.ChatServer, users UserRepository, offline OfflineRepository, history HistoryRepository) *Server {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, users, offline, history, cfg.DispatchQueueSize)

	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 20
	}

	return &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		handler:    NewHandler(users, registry, dispatcher, cfg),
		supervisor: NewSupervisor(registry, dispatcher, cfg.PingInterval, cfg.PingTimeout),
		pool:       semaphore.NewWeighted(int64(poolSize)),
	}
}

// Registry returns the client registry. Used by integration tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the address the server is listening on.
// Returns nil if the server hasn't started yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and every client connection.
func (s *Server) Close() error {
	s.registry.CloseAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening for client connections on cfg.BindAddress:cfg.Port.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from the given listener.
// Used for testing with custom listeners.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.registry.CloseAll()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		s.dispatcher.Run(ctx)
	})
	wg.Go(func() {
		s.supervisor.Run(ctx)
	})
	wg.Go(func() {
		slog.Info("chat server started", "address", ln.Addr())
		s.acceptLoop(ctx, &wg, ln)
	})

	wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.pool.Acquire(ctx, 1); err != nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			s.pool.Release(1)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}

		wg.Go(func() {
			defer s.pool.Release(1)
			s.handler.Handle(ctx, conn)
		})
	}
}
