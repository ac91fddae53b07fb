package discovery

import (
	"context"
	"sync"

	"github.com/arung-agamani/djlink/internal/coordinator"
	"github.com/arung-agamani/djlink/internal/proto"
)

// SimulatedSource is a deterministic, in-memory stand-in for both the
// announcement listener and the status publisher, used by tests and by
// the finder's demo mode so the end-to-end scenarios can run without real
// hardware.
type SimulatedSource struct {
	mu       sync.Mutex
	onEvent  func(coordinator.AnnouncementEvent)
	onStatus func(proto.CdjStatus)
	started  bool
}

// NewSimulatedSource returns an unstarted simulated source.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{}
}

// Start implements coordinator.AnnouncementSource.
func (s *SimulatedSource) Start(ctx context.Context, onEvent func(coordinator.AnnouncementEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = onEvent
	s.started = true
	return nil
}

// Stop implements coordinator.AnnouncementSource.
func (s *SimulatedSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = nil
	s.started = false
	return nil
}

// StartStatus registers the status callback that Inject delivers to. It is
// exposed as a coordinator.StatusSource through StatusAdapter.
func (s *SimulatedSource) StartStatus(ctx context.Context, onStatus func(proto.CdjStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = onStatus
	return nil
}

// StopStatus drops the status callback registered by StartStatus.
func (s *SimulatedSource) StopStatus() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = nil
	return nil
}

// Announce delivers an announcement event as if it had come from the
// network. Safe to call concurrently with Start/Stop.
func (s *SimulatedSource) Announce(ev coordinator.AnnouncementEvent) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Inject delivers a status update as if it had come from the network.
func (s *SimulatedSource) Inject(status proto.CdjStatus) {
	s.mu.Lock()
	cb := s.onStatus
	s.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

// StatusAdapter exposes the StartStatus/StopStatus pair through the
// coordinator.StatusSource interface, since one SimulatedSource instance
// plays both the announcement and the status source roles but Go
// interfaces can't otherwise distinguish the two Start/Stop pairs on one
// receiver.
type StatusAdapter struct {
	Source *SimulatedSource
}

func (a StatusAdapter) Start(ctx context.Context, onStatus func(proto.CdjStatus)) error {
	return a.Source.StartStatus(ctx, onStatus)
}

func (a StatusAdapter) Stop() error {
	return a.Source.StopStatus()
}
