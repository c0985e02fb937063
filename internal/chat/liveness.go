package chat

import (
	"context"
	"log/slog"
	"time"
)

// Supervisor evicts clients whose last heartbeat is older than the timeout.
// Besides the connection handler it is the only component that removes
// clients from the registry.
type Supervisor struct {
	registry   *Registry
	dispatcher *Dispatcher
	interval   time.Duration
	timeout    time.Duration
}

// NewSupervisor creates a liveness supervisor.
func NewSupervisor(registry *Registry, dispatcher *Dispatcher, interval, timeout time.Duration) *Supervisor {
	return &Supervisor{
		registry:   registry,
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    timeout,
	}
}

// Run scans the registry every interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts every client whose heartbeat is older than the timeout and
// enqueues the standard leave notice and roster broadcast for each.
func (s *Supervisor) sweep() {
	cutoff := time.Now().Add(-s.timeout)
	for _, c := range s.registry.Stale(cutoff) {
		username, registered := s.registry.Remove(c)
		_ = c.Close()
		if !registered {
			continue
		}
		slog.Info("evicted stale client", "user", username, "lastSeen", c.LastSeen())
		s.dispatcher.BroadcastSystem(username + " saiu do chat")
		s.dispatcher.BroadcastUserList()
	}
}
