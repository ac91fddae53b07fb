package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/arung-agamani/djlink/internal/proto"
)

func metaWithHotCue(ref proto.TrackRef, hotCue uint8) *proto.TrackMetadata {
	cueList := &proto.CueList{Entries: []proto.CueEntry{
		{CueTimeMs: 1000, HotCueNumber: hotCue},
	}}
	return proto.NewTrackMetadata(ref, nil, cueList)
}

func TestHotCache_UpdateInstallsHotCueAlias(t *testing.T) {
	h := NewHotCache()
	ref := proto.TrackRef{SourceDevice: 1, Slot: proto.SlotUSB, RekordboxID: 42}
	metadata := metaWithHotCue(ref, 1)

	h.Update(2, metadata)

	main := h.Lookup(proto.DeckRef{Device: 2, HotCue: proto.MainDeck})
	hotCue := h.Lookup(proto.DeckRef{Device: 2, HotCue: 1})

	require.NotNil(t, main)
	require.NotNil(t, hotCue)
	assert.Same(t, main, hotCue, "hot cue alias must share the main deck's metadata pointer")
}

func TestHotCache_ClearDeckLeavesHotCueAliases(t *testing.T) {
	h := NewHotCache()
	ref := proto.TrackRef{SourceDevice: 1, Slot: proto.SlotUSB, RekordboxID: 42}
	metadata := metaWithHotCue(ref, 1)
	h.Update(2, metadata)

	h.ClearDeck(2)

	assert.Nil(t, h.MainDeck(2))
	assert.NotNil(t, h.Lookup(proto.DeckRef{Device: 2, HotCue: 1}))
}

func TestHotCache_FlushSlotRemovesOnlyMatchingEntries(t *testing.T) {
	h := NewHotCache()
	usbRef := proto.TrackRef{SourceDevice: 1, Slot: proto.SlotUSB, RekordboxID: 1}
	sdRef := proto.TrackRef{SourceDevice: 1, Slot: proto.SlotSD, RekordboxID: 2}

	h.Update(2, metaWithHotCue(usbRef, 1))
	h.Update(3, metaWithHotCue(sdRef, 1))

	h.FlushSlot(proto.SlotRef{Device: 1, Slot: proto.SlotUSB})

	assert.Nil(t, h.MainDeck(2))
	assert.Nil(t, h.Lookup(proto.DeckRef{Device: 2, HotCue: 1}))
	assert.NotNil(t, h.MainDeck(3))
}

func TestHotCache_FindByTrackRef(t *testing.T) {
	h := NewHotCache()
	ref := proto.TrackRef{SourceDevice: 1, Slot: proto.SlotUSB, RekordboxID: 7}
	metadata := proto.NewTrackMetadata(ref, nil, nil)
	h.Update(2, metadata)

	found := h.FindByTrackRef(ref)
	require.NotNil(t, found)
	assert.Same(t, metadata, found)

	assert.Nil(t, h.FindByTrackRef(proto.TrackRef{SourceDevice: 1, Slot: proto.SlotUSB, RekordboxID: 99}))
}

// TestHotCache_FlushSlotNeverPanicsOnIteration is a property test standing
// in for the iterator-invalidation bug this method's two-pass
// collect-then-delete structure exists to avoid: no matter how many decks
// share the flushed slot, FlushSlot must complete without corrupting the
// map it ranges over.
func TestHotCache_FlushSlotNeverPanicsOnIteration(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := NewHotCache()
		deviceCount := rapid.IntRange(1, 8).Draw(t, "deviceCount")
		targetSlot := proto.SlotRef{Device: 1, Slot: proto.SlotUSB}

		for i := 0; i < deviceCount; i++ {
			device := proto.DeviceID(1 + i%4)
			slot := proto.SlotUSB
			if i%3 == 0 {
				slot = proto.SlotSD
			}
			ref := proto.TrackRef{SourceDevice: 1, Slot: slot, RekordboxID: uint32(i)}
			h.Update(device, proto.NewTrackMetadata(ref, nil, nil))
		}

		h.FlushSlot(targetSlot)

		for ref, metadata := range h.Snapshot() {
			if metadata != nil {
				assert.NotEqualf(t, targetSlot, metadata.TrackRef.SlotRef(), "entry %v survived FlushSlot for its own slot", ref)
			}
		}
	})
}
