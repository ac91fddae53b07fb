// Package bus implements the subscription bus: three listener sets (mount,
// archive, metadata) delivered synchronously on the caller's own thread,
// with per-listener panic and error isolation.
package bus

import (
	"log/slog"
	"sync"

	"github.com/arung-agamani/djlink/internal/proto"
)

// MountEvent reports a slot transitioning into or out of the mounted set.
type MountEvent struct {
	Slot    proto.SlotRef
	Mounted bool
}

// ArchiveEvent reports an archive attach or detach.
type ArchiveEvent struct {
	Slot     proto.SlotRef
	Attached bool
}

// MetadataEvent reports a main-deck metadata change. Metadata is nil when
// the deck was cleared.
type MetadataEvent struct {
	Device   proto.DeviceID
	Metadata *proto.TrackMetadata
}

// MountListener, ArchiveListener, and MetadataListener are the three
// callback shapes a caller can subscribe.
type (
	MountListener    func(MountEvent)
	ArchiveListener  func(ArchiveEvent)
	MetadataListener func(MetadataEvent)
)

// Unsubscribe removes the listener its registration call returned. Calling
// it more than once is a no-op.
type Unsubscribe func()

// Bus fans out mount, archive, and metadata events to their registered
// listeners. Nil listeners are ignored. Delivery iterates a snapshot taken
// at call time, so listeners added or removed mid-delivery affect only the
// next delivery.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	mountL    map[uint64]MountListener
	archiveL  map[uint64]ArchiveListener
	metadataL map[uint64]MetadataListener
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		mountL:    make(map[uint64]MountListener),
		archiveL:  make(map[uint64]ArchiveListener),
		metadataL: make(map[uint64]MetadataListener),
	}
}

// OnMount registers a mount listener and returns its removal handle.
func (b *Bus) OnMount(l MountListener) Unsubscribe {
	if l == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.mountL[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.mountL, id)
	}
}

// OnArchive registers an archive listener and returns its removal handle.
func (b *Bus) OnArchive(l ArchiveListener) Unsubscribe {
	if l == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.archiveL[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.archiveL, id)
	}
}

// OnMetadata registers a metadata listener and returns its removal handle.
func (b *Bus) OnMetadata(l MetadataListener) Unsubscribe {
	if l == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.metadataL[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.metadataL, id)
	}
}

// EmitMount delivers ev to every mount listener, synchronously, on the
// calling goroutine.
func (b *Bus) EmitMount(ev MountEvent) {
	b.mu.RLock()
	snapshot := make([]MountListener, 0, len(b.mountL))
	for _, l := range b.mountL {
		snapshot = append(snapshot, l)
	}
	b.mu.RUnlock()

	for _, l := range snapshot {
		deliverSafely("mount", func() { l(ev) })
	}
}

// EmitArchive delivers ev to every archive listener, synchronously.
func (b *Bus) EmitArchive(ev ArchiveEvent) {
	b.mu.RLock()
	snapshot := make([]ArchiveListener, 0, len(b.archiveL))
	for _, l := range b.archiveL {
		snapshot = append(snapshot, l)
	}
	b.mu.RUnlock()

	for _, l := range snapshot {
		deliverSafely("archive", func() { l(ev) })
	}
}

// EmitMetadata delivers ev to every metadata listener, synchronously, on
// the handler thread (pipeline mutations) or the worker thread (fetch
// completions) — whichever goroutine calls this.
func (b *Bus) EmitMetadata(ev MetadataEvent) {
	b.mu.RLock()
	snapshot := make([]MetadataListener, 0, len(b.metadataL))
	for _, l := range b.metadataL {
		snapshot = append(snapshot, l)
	}
	b.mu.RUnlock()

	for _, l := range snapshot {
		deliverSafely("metadata", func() { l(ev) })
	}
}

func deliverSafely(kind string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listener panicked", "kind", kind, "recovered", r)
		}
	}()
	call()
}
