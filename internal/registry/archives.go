package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/arung-agamani/djlink/internal/archive"
	"github.com/arung-agamani/djlink/internal/bus"
	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/proto"
)

// AnnouncedChecker reports whether a device is currently visible on the
// network. Attach rejects archives for devices that aren't.
type AnnouncedChecker interface {
	IsAnnounced(device proto.DeviceID) bool
}

// ArchiveRegistry tracks the per-slot archive attachment: SlotRef → open
// archive handle. Replacing an attachment closes the prior handle exactly
// once.
type ArchiveRegistry struct {
	mu        sync.Mutex
	archives  map[proto.SlotRef]*archive.Reader
	bus       *bus.Bus
	announced AnnouncedChecker
}

// NewArchiveRegistry returns an empty registry that emits attach/detach
// events on b and checks device presence via announced.
func NewArchiveRegistry(b *bus.Bus, announced AnnouncedChecker) *ArchiveRegistry {
	return &ArchiveRegistry{
		archives:  make(map[proto.SlotRef]*archive.Reader),
		bus:       b,
		announced: announced,
	}
}

// Attach opens the archive at path and installs it for slot, validating the
// device range, that the device is currently announced, and the archive's
// format tag. Any prior attachment for slot is closed after the new one is
// installed.
func (r *ArchiveRegistry) Attach(slot proto.SlotRef, path string) error {
	if !slot.Device.Valid() {
		return fmt.Errorf("%w: device %d out of range", cdjerr.BadArgument, slot.Device)
	}
	if r.announced != nil && !r.announced.IsAnnounced(slot.Device) {
		return fmt.Errorf("%w: device %d is not currently announced", cdjerr.BadArgument, slot.Device)
	}

	reader, err := archive.OpenReader(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prior := r.archives[slot]
	r.archives[slot] = reader
	r.mu.Unlock()

	if prior != nil {
		if err := prior.Close(); err != nil {
			slog.Warn("failed to close replaced archive", "slot", slot, "error", err)
		}
	}

	r.bus.EmitArchive(bus.ArchiveEvent{Slot: slot, Attached: true})
	return nil
}

// Detach closes and removes the archive for slot, if any. Idempotent:
// detaching an already-unattached slot is a no-op, not an error.
func (r *ArchiveRegistry) Detach(slot proto.SlotRef) error {
	r.mu.Lock()
	reader, ok := r.archives[slot]
	delete(r.archives, slot)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := reader.Close(); err != nil {
		slog.Warn("failed to close detached archive", "slot", slot, "error", err)
	}
	r.bus.EmitArchive(bus.ArchiveEvent{Slot: slot, Attached: false})
	return nil
}

// Lookup returns the archive reader attached to slot, if any.
func (r *ArchiveRegistry) Lookup(slot proto.SlotRef) (*archive.Reader, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reader, ok := r.archives[slot]
	return reader, ok
}

// LookupMetadata reads metadata/<id> (and, if present, cueList/<id>) from
// the archive attached to track's slot. A missing entry or unattached slot
// returns (nil, nil); a corrupt entry is logged and also returns (nil, nil)
// — the caller falls back exactly as it would for "no data available."
func (r *ArchiveRegistry) LookupMetadata(track proto.TrackRef) (*proto.TrackMetadata, error) {
	reader, ok := r.Lookup(track.SlotRef())
	if !ok {
		return nil, nil
	}

	items, err := reader.ReadMetadata(track.RekordboxID)
	if err != nil {
		slog.Warn("corrupt metadata entry in attached archive", "track", track, "error", err)
		return nil, nil
	}
	if items == nil {
		return nil, nil
	}

	var cueList *proto.CueList
	if cueMsg, err := reader.ReadCueList(track.RekordboxID); err != nil {
		slog.Warn("corrupt cue list entry in attached archive", "track", track, "error", err)
	} else if cueMsg != nil {
		cueList = proto.ParseCueList(cueMsg)
	}

	return proto.NewTrackMetadata(track, items, cueList), nil
}

// Attached returns the set of slots currently carrying an attachment.
func (r *ArchiveRegistry) Attached() []proto.SlotRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]proto.SlotRef, 0, len(r.archives))
	for slot := range r.archives {
		out = append(out, slot)
	}
	return out
}

// CloseAll closes and removes every attachment without emitting detach
// events — used on coordinator stop, which clears state directly rather
// than notifying about an orderly per-slot detach.
func (r *ArchiveRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, reader := range r.archives {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close archive on shutdown", "slot", slot, "error", err)
		}
	}
	r.archives = make(map[proto.SlotRef]*archive.Reader)
}
