package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/djlink/internal/archive"
	"github.com/arung-agamani/djlink/internal/bus"
	"github.com/arung-agamani/djlink/internal/cache"
	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/fetch"
	"github.com/arung-agamani/djlink/internal/proto"
	"github.com/arung-agamani/djlink/internal/registry"
)

func buildTestArchive(t *testing.T, id uint32, title string) string {
	t.Helper()
	path := t.TempDir() + "/archive.zip"
	w, err := archive.NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteVersion())
	require.NoError(t, w.WriteMetadata(id, []*proto.Message{
		{Type: proto.TypeMetadataItem, Fields: []proto.Field{
			proto.NumberField(proto.AttrTitle), proto.StringField(title),
		}},
	}))
	require.NoError(t, w.Close())
	return path
}

// fakeClient answers each protocol request by its message type, independent
// of call order — good enough to drive the fetcher through a query without
// modeling a real device's session state.
type fakeClient struct {
	mu       sync.Mutex
	lastSent proto.MessageType
	lastArg  uint32
	titles   map[uint32]string
}

func (c *fakeClient) Send(ctx context.Context, msg *proto.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent = msg.Type
	if len(msg.Fields) >= 2 {
		c.lastArg = msg.Arg(1)
	} else {
		c.lastArg = 0
	}
	return nil
}

func (c *fakeClient) ReadMenu(ctx context.Context) (*proto.MenuResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.lastSent {
	case proto.TypeMetadataRequest:
		title := c.titles[c.lastArg]
		if title == "" {
			return &proto.MenuResponse{Header: &proto.Message{Type: proto.TypeNoMenuResults}}, nil
		}
		return &proto.MenuResponse{
			Header: &proto.Message{Type: proto.TypeMenuHeader},
			Items: []*proto.Message{{
				Type: proto.TypeMetadataItem,
				Fields: []proto.Field{
					proto.NumberField(proto.AttrTitle), proto.StringField(title),
				},
			}},
		}, nil
	default:
		return &proto.MenuResponse{Header: &proto.Message{Type: proto.TypeNoMenuResults}}, nil
	}
}

// fakePool hands every caller the same fakeClient and counts how many times
// a session was actually borrowed.
type fakePool struct {
	mu      sync.Mutex
	client  *fakeClient
	borrows int
}

func newFakePool(titles map[uint32]string) *fakePool {
	return &fakePool{client: &fakeClient{titles: titles}}
}

func (p *fakePool) WithClient(ctx context.Context, device proto.DeviceID, fn func(client.Client) error) error {
	p.mu.Lock()
	p.borrows++
	p.mu.Unlock()
	return fn(p.client)
}

func newTestPipeline(pool client.Pool) (*pipeline, *cache.HotCache, *registry.MountRegistry, *registry.ArchiveRegistry, *bus.Bus) {
	b := bus.New()
	hotCache := cache.NewHotCache()
	mounts := registry.NewMountRegistry()
	archives := registry.NewArchiveRegistry(b, nil)
	p := newPipeline(hotCache, mounts, archives, b, pool, fetch.NewFetcher(), func() bool { return false }, defaultQueueCapacity)
	return p, hotCache, mounts, archives, b
}

func coldLoadStatus(device proto.DeviceID, id uint32) proto.CdjStatus {
	return proto.CdjStatus{
		Device:       device,
		TrackType:    proto.TrackRekordbox,
		SourceDevice: device,
		SourceSlot:   proto.SlotUSB,
		RekordboxID:  id,
	}
}

func TestPipeline_ColdLoadFetchesAndInstallsMetadata(t *testing.T) {
	pool := newFakePool(map[uint32]string{7: "Cold Track"})
	p, hotCache, _, _, b := newTestPipeline(pool)

	var mu sync.Mutex
	var events []bus.MetadataEvent
	b.OnMetadata(func(ev bus.MetadataEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	p.handle(context.Background(), coldLoadStatus(2, 7))
	p.waitWorkers()

	main := hotCache.MainDeck(2)
	require.NotNil(t, main)
	assert.Equal(t, "Cold Track", main.Title)
	assert.Equal(t, 1, pool.borrows)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1, "a cold load must produce exactly one metadata notification")
	assert.Equal(t, proto.DeviceID(2), events[0].Device)
	assert.Same(t, main, events[0].Metadata)
}

func TestPipeline_RepeatedStatusForSameTrackDoesNotRefetch(t *testing.T) {
	pool := newFakePool(map[uint32]string{7: "Cold Track"})
	p, _, _, _, _ := newTestPipeline(pool)

	status := coldLoadStatus(2, 7)
	p.handle(context.Background(), status)
	p.waitWorkers()
	p.handle(context.Background(), status)
	p.waitWorkers()

	assert.Equal(t, 1, pool.borrows, "a status naming the already-loaded track must not trigger a second fetch")
}

func TestPipeline_ArchiveAttachedServesFromDiskWithoutNetwork(t *testing.T) {
	path := buildTestArchive(t, 9, "Archived Track")
	pool := newFakePool(nil)
	p, hotCache, _, archives, _ := newTestPipeline(pool)

	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}
	require.NoError(t, archives.Attach(slot, path))

	p.handle(context.Background(), coldLoadStatus(2, 9))
	p.waitWorkers()

	main := hotCache.MainDeck(2)
	require.NotNil(t, main)
	assert.Equal(t, "Archived Track", main.Title)
	assert.Zero(t, pool.borrows, "an archive-covered track must never fall through to the network")
}

func TestPipeline_UnmountEvictsHotCacheAndArchive(t *testing.T) {
	path := buildTestArchive(t, 9, "Archived Track")
	pool := newFakePool(nil)
	p, hotCache, mounts, archives, _ := newTestPipeline(pool)

	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}
	require.NoError(t, archives.Attach(slot, path))

	loaded := coldLoadStatus(2, 9)
	loaded.USBState = proto.SlotMountLoaded
	p.handle(context.Background(), loaded)
	p.waitWorkers()
	require.NotNil(t, hotCache.MainDeck(2))

	var cleared []proto.DeviceID
	var detached []proto.SlotRef
	p.bus.OnMetadata(func(ev bus.MetadataEvent) {
		if ev.Metadata == nil {
			cleared = append(cleared, ev.Device)
		}
	})
	p.bus.OnArchive(func(ev bus.ArchiveEvent) {
		if !ev.Attached {
			detached = append(detached, ev.Slot)
		}
	})

	unmount := proto.CdjStatus{Device: 2, USBState: proto.SlotMountEmpty}
	p.handle(context.Background(), unmount)

	assert.Nil(t, hotCache.MainDeck(2))
	_, attached := archives.Lookup(slot)
	assert.False(t, attached, "unmounting a slot must detach any archive attached to it")
	assert.False(t, mounts.IsMounted(slot))
	assert.Equal(t, []proto.DeviceID{2}, cleared, "evicted main decks must be announced with a nil metadata event")
	assert.Equal(t, []proto.SlotRef{slot}, detached)
}

func TestPipeline_EnqueueNeverBlocksWhenQueueIsFull(t *testing.T) {
	pool := newFakePool(nil)
	p, _, _, _, _ := newTestPipeline(pool)

	for i := 0; i < defaultQueueCapacity; i++ {
		p.enqueue(proto.CdjStatus{Device: 1})
	}

	done := make(chan struct{})
	go func() {
		p.enqueue(proto.CdjStatus{Device: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue instead of dropping the newest status")
	}

	assert.Len(t, p.queue, defaultQueueCapacity)
}
