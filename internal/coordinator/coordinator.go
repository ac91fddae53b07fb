package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arung-agamani/djlink/internal/archive"
	"github.com/arung-agamani/djlink/internal/archivebuild"
	"github.com/arung-agamani/djlink/internal/bus"
	"github.com/arung-agamani/djlink/internal/cache"
	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/fetch"
	"github.com/arung-agamani/djlink/internal/proto"
	"github.com/arung-agamani/djlink/internal/registry"
)

// AnnouncementEvent reports a device joining or leaving the network, along
// with the address its query service listens on while present.
type AnnouncementEvent struct {
	Device  proto.DeviceID
	Present bool
	Address string
}

// AnnouncementSource is the external, out-of-scope collaborator that
// browses the network for devices. The coordinator only consumes its
// events.
type AnnouncementSource interface {
	Start(ctx context.Context, onEvent func(AnnouncementEvent)) error
	Stop() error
}

// StatusSource is the external, out-of-scope collaborator that delivers
// status packets. It must never block on delivery — the coordinator's
// Ingest is non-blocking by construction.
type StatusSource interface {
	Start(ctx context.Context, onStatus func(proto.CdjStatus)) error
	Stop() error
}

// Config holds the dependencies a Coordinator is constructed with.
//
// Addresses is optional: pass a *registry.AddressBook shared with an
// already-constructed client.Pool to break the construction-order cycle
// between the pool (which needs an AddressResolver) and the coordinator
// (which needs the pool). If nil, the coordinator creates its own.
type Config struct {
	Announcements AnnouncementSource
	Status        StatusSource
	Pool          client.Pool
	Addresses     *registry.AddressBook
	StartPassive  bool

	// QueueCapacity bounds the status pipeline's buffered channel. Zero
	// falls back to a sane default.
	QueueCapacity int
}

// Coordinator is the tracking/cache coordinator. It is a constructed value
// owned by the application; the status source, announcement source, and
// client pool are injected rather than discovered globally.
type Coordinator struct {
	announcements AnnouncementSource
	statusSource  StatusSource
	pool          client.Pool
	fetcher       *fetch.Fetcher
	builder       *archivebuild.Builder

	hotCache  *cache.HotCache
	mounts    *registry.MountRegistry
	archives  *registry.ArchiveRegistry
	addresses *registry.AddressBook
	bus       *bus.Bus
	pipeline  *pipeline

	passive atomic.Bool
	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator. It does nothing network-visible until
// Start is called.
func New(cfg Config) *Coordinator {
	b := bus.New()
	hotCache := cache.NewHotCache()
	mounts := registry.NewMountRegistry()
	addresses := cfg.Addresses
	if addresses == nil {
		addresses = registry.NewAddressBook()
	}

	c := &Coordinator{
		announcements: cfg.Announcements,
		statusSource:  cfg.Status,
		pool:          cfg.Pool,
		fetcher:       fetch.NewFetcher(),
		hotCache:      hotCache,
		mounts:        mounts,
		addresses:     addresses,
		bus:           b,
	}
	c.archives = registry.NewArchiveRegistry(b, addresses)
	c.builder = archivebuild.NewBuilder(cfg.Pool, c.fetcher)
	c.pipeline = newPipeline(hotCache, mounts, c.archives, b, cfg.Pool, c.fetcher, c.passive.Load, cfg.QueueCapacity)
	c.passive.Store(cfg.StartPassive)
	return c
}

// IsAnnounced implements registry.AnnouncedChecker.
func (c *Coordinator) IsAnnounced(device proto.DeviceID) bool {
	return c.addresses.IsAnnounced(device)
}

// Address implements client.AddressResolver.
func (c *Coordinator) Address(device proto.DeviceID) (string, bool) {
	return c.addresses.Address(device)
}

// Start brings the coordinator up: all state is (re)created fresh and the
// handler goroutine, announcement source, and status source are started.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pipeline.run(runCtx)
	}()

	if c.announcements != nil {
		if err := c.announcements.Start(runCtx, c.handleAnnouncement); err != nil {
			c.running.Store(false)
			cancel()
			return fmt.Errorf("%w: start announcement source: %v", cdjerr.IO, err)
		}
	}
	if c.statusSource != nil {
		if err := c.statusSource.Start(runCtx, c.pipeline.enqueue); err != nil {
			c.running.Store(false)
			cancel()
			return fmt.Errorf("%w: start status source: %v", cdjerr.IO, err)
		}
	}

	slog.Info("coordinator started", "passive", c.passive.Load())
	return nil
}

// Stop tears the coordinator down: it stops the upstream sources, cancels
// the handler goroutine, waits for in-flight fetch workers, emits a
// metadata-nil notification for every main-deck entry, and clears all
// state. It does not wait for in-flight archive builds, which observe
// cancellation cooperatively through their own progress listener.
func (c *Coordinator) Stop() error {
	if !c.running.Swap(false) {
		return nil
	}

	if c.statusSource != nil {
		if err := c.statusSource.Stop(); err != nil {
			slog.Warn("error stopping status source", "error", err)
		}
	}
	if c.announcements != nil {
		if err := c.announcements.Stop(); err != nil {
			slog.Warn("error stopping announcement source", "error", err)
		}
	}

	c.cancel()
	c.wg.Wait()
	c.pipeline.waitWorkers()
	c.pipeline.drain()

	for deck, metadata := range c.hotCache.Snapshot() {
		if deck.HotCue == proto.MainDeck && metadata != nil {
			c.bus.EmitMetadata(bus.MetadataEvent{Device: deck.Device, Metadata: nil})
		}
	}

	c.hotCache.Clear()
	c.mounts.Clear()
	c.archives.CloseAll()
	c.addresses.Clear()

	slog.Info("coordinator stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (c *Coordinator) IsRunning() bool { return c.running.Load() }

// IsPassive reports whether on-update fetches are currently suppressed.
func (c *Coordinator) IsPassive() bool { return c.passive.Load() }

// SetPassive toggles passive mode. It only affects fetches triggered by
// observed status updates; explicit RequestMetadata calls and archive
// builds are unaffected.
func (c *Coordinator) SetPassive(p bool) { c.passive.Store(p) }

func (c *Coordinator) handleAnnouncement(ev AnnouncementEvent) {
	if ev.Present {
		c.addresses.Put(ev.Device, ev.Address)
		return
	}

	c.addresses.Remove(ev.Device)

	if c.hotCache.ClearDevice(ev.Device) {
		c.bus.EmitMetadata(bus.MetadataEvent{Device: ev.Device, Metadata: nil})
	}
	for _, kind := range []proto.SlotKind{proto.SlotSD, proto.SlotUSB} {
		slot := proto.SlotRef{Device: ev.Device, Slot: kind}
		if err := c.archives.Detach(slot); err != nil {
			slog.Warn("failed to detach archive on device loss", "slot", slot, "error", err)
		}
	}
}

// RequestMetadata is the user-driven query: it propagates errors, is
// unaffected by passive mode (it proceeds to the network when no archive
// is attached), and does not touch ActiveRequestSet — callers may issue it
// concurrently with pipeline-driven fetches for the same device.
func (c *Coordinator) RequestMetadata(ctx context.Context, track proto.TrackRef) (*proto.TrackMetadata, error) {
	if !c.running.Load() {
		return nil, cdjerr.NotRunning
	}
	return c.pipeline.requestMetadataInternal(ctx, track, false)
}

// AttachArchive validates and installs an archive for slot.
func (c *Coordinator) AttachArchive(slot proto.SlotRef, path string) error {
	if !c.running.Load() {
		return cdjerr.NotRunning
	}
	if !slot.Slot.SupportsArchive() {
		return fmt.Errorf("%w: slot kind %s does not support archives", cdjerr.BadArgument, slot.Slot)
	}
	return c.archives.Attach(slot, path)
}

// DetachArchive removes the archive attached to slot, if any.
func (c *Coordinator) DetachArchive(slot proto.SlotRef) error {
	if !c.running.Load() {
		return cdjerr.NotRunning
	}
	return c.archives.Detach(slot)
}

// GetArchive returns the archive reader attached to slot, if any.
func (c *Coordinator) GetArchive(slot proto.SlotRef) (*archive.Reader, bool) {
	return c.archives.Lookup(slot)
}

// ArchiveRegistry exposes the underlying registry so callers (the archive
// directory watcher, in particular) can attach archives directly without
// going through the running and slot-kind checks that gate the public
// AttachArchive method. The registry's own checks still apply: the device
// must be in range and currently announced.
func (c *Coordinator) ArchiveRegistry() *registry.ArchiveRegistry {
	return c.archives
}

// CreateArchive builds an archive of slot's track listing. It requires the
// coordinator to be in passive mode, since a build is long and would
// otherwise contend with live on-update fetches.
func (c *Coordinator) CreateArchive(ctx context.Context, slot proto.SlotRef, playlistID uint32, dest string, progress archivebuild.ProgressFunc) error {
	if !c.running.Load() {
		return cdjerr.NotRunning
	}
	if !c.passive.Load() {
		return fmt.Errorf("%w: archive builds require passive mode", cdjerr.BadArgument)
	}
	return c.builder.Build(ctx, slot, playlistID, dest, progress)
}

// LoadedTracks returns a snapshot of the whole hot cache.
func (c *Coordinator) LoadedTracks() map[proto.DeckRef]*proto.TrackMetadata {
	return c.hotCache.Snapshot()
}

// LatestMetadataFor returns the main-deck metadata for device, or nil.
func (c *Coordinator) LatestMetadataFor(device proto.DeviceID) *proto.TrackMetadata {
	return c.hotCache.MainDeck(device)
}

// MountedSlots returns a snapshot of the mounted-slot set.
func (c *Coordinator) MountedSlots() map[proto.SlotRef]struct{} {
	return c.mounts.Snapshot()
}

// OnMount registers a mount-event listener and returns its removal handle.
func (c *Coordinator) OnMount(l bus.MountListener) bus.Unsubscribe { return c.bus.OnMount(l) }

// OnArchive registers an archive-event listener and returns its removal
// handle.
func (c *Coordinator) OnArchive(l bus.ArchiveListener) bus.Unsubscribe { return c.bus.OnArchive(l) }

// OnMetadata registers a metadata-event listener and returns its removal
// handle.
func (c *Coordinator) OnMetadata(l bus.MetadataListener) bus.Unsubscribe { return c.bus.OnMetadata(l) }
