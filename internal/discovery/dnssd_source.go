// Package discovery supplies concrete AnnouncementSource implementations.
// The coordinator only depends on the interface in package coordinator;
// this package is where a real network browser or a deterministic
// in-memory stand-in lives.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/brutella/dnssd"

	"github.com/arung-agamani/djlink/internal/coordinator"
	"github.com/arung-agamani/djlink/internal/proto"
)

// ServiceType is the mDNS service type players' query services are
// browsed for.
const ServiceType = "_djlink-db._tcp"

// DNSSDSource browses the local network for the query-service instances
// announced by devices, translating each advertisement into a
// coordinator.AnnouncementEvent. The device number is carried in the
// advertised TXT record under the "device" key.
type DNSSDSource struct {
	serviceType string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDNSSDSource returns an unstarted browser for the given mDNS service
// type. An empty serviceType falls back to ServiceType.
func NewDNSSDSource(serviceType string) *DNSSDSource {
	if serviceType == "" {
		serviceType = ServiceType
	}
	return &DNSSDSource{serviceType: serviceType}
}

// Start begins browsing in the background and calls onEvent for every
// device seen appearing or disappearing.
func (s *DNSSDSource) Start(ctx context.Context, onEvent func(coordinator.AnnouncementEvent)) error {
	browseCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	add := func(e dnssd.BrowseEntry) {
		device, addr, ok := parseEntry(e)
		if !ok {
			slog.Warn("dns-sd: ignoring advertisement with no usable device id", "instance", e.Name)
			return
		}
		onEvent(coordinator.AnnouncementEvent{Device: device, Present: true, Address: addr})
	}
	remove := func(e dnssd.BrowseEntry) {
		device, addr, ok := parseEntry(e)
		if !ok {
			return
		}
		onEvent(coordinator.AnnouncementEvent{Device: device, Present: false, Address: addr})
	}

	go func() {
		if err := dnssd.LookupType(browseCtx, s.serviceType, add, remove); err != nil && browseCtx.Err() == nil {
			slog.Error("dns-sd: browse terminated", "error", err)
		}
	}()

	return nil
}

// Stop cancels the background browse.
func (s *DNSSDSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func parseEntry(e dnssd.BrowseEntry) (proto.DeviceID, string, bool) {
	raw, ok := e.Text["device"]
	if !ok {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 || n > 255 {
		return 0, "", false
	}

	addr := ""
	if len(e.IPs) > 0 {
		addr = fmt.Sprintf("%s:%d", e.IPs[0], e.Port)
	}
	return proto.DeviceID(n), addr, true
}
