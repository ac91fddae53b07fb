// Package coordinator wires every other package together into the event
// pipeline (C10) and the public lifecycle API (C12).
package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arung-agamani/djlink/internal/bus"
	"github.com/arung-agamani/djlink/internal/cache"
	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/fetch"
	"github.com/arung-agamani/djlink/internal/proto"
	"github.com/arung-agamani/djlink/internal/registry"
)

// defaultQueueCapacity is used when a caller passes a non-positive
// capacity. A full queue drops the newest status and logs a warning —
// acceptable because status updates are idempotent refreshes.
const defaultQueueCapacity = 100

// activeRequestSet enforces at most one concurrent fetch per source
// device.
type activeRequestSet struct {
	mu     sync.Mutex
	active map[proto.DeviceID]struct{}
}

func newActiveRequestSet() *activeRequestSet {
	return &activeRequestSet{active: make(map[proto.DeviceID]struct{})}
}

// tryAdd reports whether device was not already present, adding it if so.
func (s *activeRequestSet) tryAdd(device proto.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[device]; ok {
		return false
	}
	s.active[device] = struct{}{}
	return true
}

func (s *activeRequestSet) remove(device proto.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, device)
}

// pipeline is the handler-thread side of the coordinator: a bounded queue,
// a single consuming goroutine, and the per-update decision logic.
type pipeline struct {
	queue chan proto.CdjStatus

	hotCache *cache.HotCache
	mounts   *registry.MountRegistry
	archives *registry.ArchiveRegistry
	bus      *bus.Bus
	pool     client.Pool
	fetcher  *fetch.Fetcher

	active  *activeRequestSet
	passive func() bool

	workers sync.WaitGroup
}

func newPipeline(hotCache *cache.HotCache, mounts *registry.MountRegistry, archives *registry.ArchiveRegistry, b *bus.Bus, pool client.Pool, fetcher *fetch.Fetcher, passive func() bool, queueCapacity int) *pipeline {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	return &pipeline{
		queue:    make(chan proto.CdjStatus, queueCapacity),
		hotCache: hotCache,
		mounts:   mounts,
		archives: archives,
		bus:      b,
		pool:     pool,
		fetcher:  fetcher,
		active:   newActiveRequestSet(),
		passive:  passive,
	}
}

// enqueue is called by the upstream delivery thread. It never blocks: a
// full queue drops the newest status and logs a warning.
func (p *pipeline) enqueue(status proto.CdjStatus) {
	select {
	case p.queue <- status:
	default:
		slog.Warn("status queue full, dropping newest update", "device", status.Device)
	}
}

// run drains the queue on the calling goroutine until ctx is cancelled.
// The caller is expected to run this in its own goroutine.
func (p *pipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-p.queue:
			p.handle(ctx, status)
		}
	}
}

// handle processes one status update: mount bookkeeping first, then the
// track-loaded decision, dedup, hot-cue reuse, and finally a fetch.
func (p *pipeline) handle(ctx context.Context, status proto.CdjStatus) {
	p.handleMountBookkeeping(status)

	if !status.HasRekordboxTrack() {
		if p.hotCache.ClearDeck(status.Device) {
			p.bus.EmitMetadata(bus.MetadataEvent{Device: status.Device, Metadata: nil})
		}
		return
	}

	track := status.TrackRefValue()

	if current := p.hotCache.MainDeck(status.Device); current != nil && current.TrackRef == track {
		return
	}

	if found := p.hotCache.FindByTrackRef(track); found != nil {
		p.hotCache.Update(status.Device, found)
		p.bus.EmitMetadata(bus.MetadataEvent{Device: status.Device, Metadata: found})
		return
	}

	p.dispatchFetch(ctx, status.Device, track)
}

func (p *pipeline) handleMountBookkeeping(status proto.CdjStatus) {
	p.handleSlotTransition(status.Device, proto.SlotUSB, status.USBState)
	p.handleSlotTransition(status.Device, proto.SlotSD, status.SDState)
}

func (p *pipeline) handleSlotTransition(device proto.DeviceID, kind proto.SlotKind, state proto.SlotMountState) {
	slot := proto.SlotRef{Device: device, Slot: kind}

	switch state {
	case proto.SlotMountEmpty:
		if !p.mounts.Unmount(slot) {
			return
		}
		if err := p.archives.Detach(slot); err != nil {
			slog.Warn("failed to auto-detach archive on unmount", "slot", slot, "error", err)
		}
		for _, ref := range p.hotCache.FlushSlot(slot) {
			if ref.HotCue == proto.MainDeck {
				p.bus.EmitMetadata(bus.MetadataEvent{Device: ref.Device, Metadata: nil})
			}
		}
		p.bus.EmitMount(bus.MountEvent{Slot: slot, Mounted: false})

	case proto.SlotMountLoaded:
		if !p.mounts.Mount(slot) {
			return
		}
		p.bus.EmitMount(bus.MountEvent{Slot: slot, Mounted: true})

	case proto.SlotMountUnchanged:
		// No new information about this slot in this status.
	}
}

// dispatchFetch dedups via the active-request set, clears the deck, and
// spawns a worker that fetches and installs the result.
func (p *pipeline) dispatchFetch(ctx context.Context, device proto.DeviceID, track proto.TrackRef) {
	if !p.active.tryAdd(track.SourceDevice) {
		return
	}

	if p.hotCache.ClearDeck(device) {
		p.bus.EmitMetadata(bus.MetadataEvent{Device: device, Metadata: nil})
	}

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		defer p.active.remove(track.SourceDevice)

		metadata, err := p.requestMetadataInternal(ctx, track, true)
		if err != nil {
			slog.Warn("background metadata fetch failed", "device", device, "track", track, "error", err)
			return
		}
		if metadata == nil {
			return
		}

		p.hotCache.Update(device, metadata)
		p.bus.EmitMetadata(bus.MetadataEvent{Device: device, Metadata: metadata})
	}()
}

// requestMetadataInternal serves from an attached archive if one covers
// track's slot; otherwise, unless passive mode forbids it, borrows a client
// session and queries the network.
func (p *pipeline) requestMetadataInternal(ctx context.Context, track proto.TrackRef, failIfPassive bool) (*proto.TrackMetadata, error) {
	if metadata, err := p.archives.LookupMetadata(track); err != nil {
		return nil, err
	} else if metadata != nil {
		return metadata, nil
	} else if _, attached := p.archives.Lookup(track.SlotRef()); attached {
		return nil, nil
	}

	if p.passive() && failIfPassive {
		return nil, nil
	}

	var metadata *proto.TrackMetadata
	err := p.pool.WithClient(ctx, track.SourceDevice, func(c client.Client) error {
		var err error
		metadata, err = p.fetcher.QueryMetadata(ctx, c, track)
		return err
	})
	return metadata, err
}

// waitWorkers blocks until every in-flight fetch worker has exited.
func (p *pipeline) waitWorkers() {
	p.workers.Wait()
}

// drain discards any statuses still queued. Called on stop, after the
// handler goroutine has exited, so a later start does not replay stale
// updates.
func (p *pipeline) drain() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}
