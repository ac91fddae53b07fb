package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/djlink/internal/archive"
	"github.com/arung-agamani/djlink/internal/bus"
	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/proto"
)

type fakeAnnounced struct {
	present map[proto.DeviceID]bool
}

func (f fakeAnnounced) IsAnnounced(device proto.DeviceID) bool {
	return f.present[device]
}

func buildTestArchive(t *testing.T, id uint32, title string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
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

func TestArchiveRegistry_AttachRejectsUnannouncedDevice(t *testing.T) {
	path := buildTestArchive(t, 1, "Track One")
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{}})

	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}
	err := r.Attach(slot, path)

	require.Error(t, err)
	assert.ErrorIs(t, err, cdjerr.BadArgument)
	_, ok := r.Lookup(slot)
	assert.False(t, ok)
}

func TestArchiveRegistry_AttachRejectsInvalidDevice(t *testing.T) {
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{}})
	slot := proto.SlotRef{Device: 0, Slot: proto.SlotUSB}

	err := r.Attach(slot, "/does/not/matter")
	require.Error(t, err)
	assert.ErrorIs(t, err, cdjerr.BadArgument)
}

func TestArchiveRegistry_AttachAndLookup(t *testing.T) {
	path := buildTestArchive(t, 1, "Track One")
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{2: true}})
	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}

	require.NoError(t, r.Attach(slot, path))

	reader, ok := r.Lookup(slot)
	require.True(t, ok)
	assert.Equal(t, path, reader.Path())
	assert.Equal(t, []proto.SlotRef{slot}, r.Attached())
}

func TestArchiveRegistry_AttachReplacesPriorAttachment(t *testing.T) {
	firstPath := buildTestArchive(t, 1, "First")
	secondPath := buildTestArchive(t, 1, "Second")
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{2: true}})
	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}

	require.NoError(t, r.Attach(slot, firstPath))
	require.NoError(t, r.Attach(slot, secondPath))

	reader, ok := r.Lookup(slot)
	require.True(t, ok)
	assert.Equal(t, secondPath, reader.Path())
	assert.Len(t, r.Attached(), 1, "replacing an attachment must not leave two entries for the same slot")
}

func TestArchiveRegistry_DetachIsIdempotent(t *testing.T) {
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{}})
	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}

	assert.NoError(t, r.Detach(slot))

	path := buildTestArchive(t, 1, "Track One")
	r2 := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{2: true}})
	require.NoError(t, r2.Attach(slot, path))
	require.NoError(t, r2.Detach(slot))
	_, ok := r2.Lookup(slot)
	assert.False(t, ok)
	assert.NoError(t, r2.Detach(slot))
}

func TestArchiveRegistry_LookupMetadata(t *testing.T) {
	path := buildTestArchive(t, 7, "Attached Track")
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{2: true}})
	slot := proto.SlotRef{Device: 2, Slot: proto.SlotUSB}
	require.NoError(t, r.Attach(slot, path))

	found := proto.TrackRef{SourceDevice: 2, Slot: proto.SlotUSB, RekordboxID: 7}
	metadata, err := r.LookupMetadata(found)
	require.NoError(t, err)
	require.NotNil(t, metadata)
	assert.Equal(t, "Attached Track", metadata.Title)

	missing := proto.TrackRef{SourceDevice: 2, Slot: proto.SlotUSB, RekordboxID: 999}
	metadata, err = r.LookupMetadata(missing)
	assert.NoError(t, err)
	assert.Nil(t, metadata)

	unattached := proto.TrackRef{SourceDevice: 3, Slot: proto.SlotUSB, RekordboxID: 7}
	metadata, err = r.LookupMetadata(unattached)
	assert.NoError(t, err)
	assert.Nil(t, metadata)
}

func TestArchiveRegistry_CloseAll(t *testing.T) {
	path := buildTestArchive(t, 1, "Track One")
	r := NewArchiveRegistry(bus.New(), fakeAnnounced{present: map[proto.DeviceID]bool{2: true, 3: true}})
	require.NoError(t, r.Attach(proto.SlotRef{Device: 2, Slot: proto.SlotUSB}, path))
	require.NoError(t, r.Attach(proto.SlotRef{Device: 3, Slot: proto.SlotSD}, path))

	r.CloseAll()

	assert.Empty(t, r.Attached())
}
