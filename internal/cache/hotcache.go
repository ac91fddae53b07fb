// Package cache implements the hot cache: the keyed map of logical decks
// to the metadata currently loaded on them, including hot-cue aliases.
package cache

import (
	"sync"

	"github.com/arung-agamani/djlink/internal/proto"
)

// HotCache is keyed by DeckRef. All mutation is centralized through its
// methods; there is no way for a caller to reach in and mutate an entry
// directly.
type HotCache struct {
	mu      sync.RWMutex
	entries map[proto.DeckRef]*proto.TrackMetadata
}

// NewHotCache returns an empty HotCache.
func NewHotCache() *HotCache {
	return &HotCache{entries: make(map[proto.DeckRef]*proto.TrackMetadata)}
}

// Update replaces DeckRef(device,0) with metadata and, for every cue entry
// in metadata's cue list with a non-zero hot cue number, also installs the
// same metadata pointer at DeckRef(device, hotCueNumber). The hot-cue
// entries share metadata's pointer rather than copying it, so a later
// FlushSlot can compare identity cheaply and so the cache never holds two
// divergent copies of what is really one load.
func (h *HotCache) Update(device proto.DeviceID, metadata *proto.TrackMetadata) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[proto.DeckRef{Device: device, HotCue: proto.MainDeck}] = metadata

	if metadata == nil || metadata.CueList == nil {
		return
	}
	for _, cue := range metadata.CueList.HotCueEntries() {
		ref := proto.DeckRef{Device: device, HotCue: proto.HotCueIndex(cue.HotCueNumber)}
		h.entries[ref] = metadata
	}
}

// ClearDeck removes only DeckRef(device,0), leaving any hot-cue aliases in
// place. Returns true if an entry was actually removed — callers emit a
// metadata-cleared notification only on that transition, not on every
// repeated "no track" status.
func (h *HotCache) ClearDeck(device proto.DeviceID) (removed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := proto.DeckRef{Device: device, HotCue: proto.MainDeck}
	if _, ok := h.entries[ref]; !ok {
		return false
	}
	delete(h.entries, ref)
	return true
}

// ClearDevice removes every deck entry belonging to device, main and
// hot-cue alike, returning true if the main deck was among them. Used when
// a device disappears from the network.
func (h *HotCache) ClearDevice(device proto.DeviceID) (mainRemoved bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []proto.DeckRef
	for ref := range h.entries {
		if ref.Device == device {
			toRemove = append(toRemove, ref)
		}
	}
	for _, ref := range toRemove {
		delete(h.entries, ref)
		if ref.HotCue == proto.MainDeck {
			mainRemoved = true
		}
	}
	return mainRemoved
}

// FlushSlot removes every entry whose metadata's TrackRef resolves to slot
// and returns the removed deck refs, so the caller can notify about the
// main decks that went away. Implemented as collect-then-delete in two
// passes, never mutating the map while ranging over it.
func (h *HotCache) FlushSlot(slot proto.SlotRef) []proto.DeckRef {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []proto.DeckRef
	for ref, metadata := range h.entries {
		if metadata == nil {
			continue
		}
		if metadata.TrackRef.SlotRef() == slot {
			toRemove = append(toRemove, ref)
		}
	}
	for _, ref := range toRemove {
		delete(h.entries, ref)
	}
	return toRemove
}

// MainDeck returns the metadata currently at DeckRef(device,0), or nil.
func (h *HotCache) MainDeck(device proto.DeviceID) *proto.TrackMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries[proto.DeckRef{Device: device, HotCue: proto.MainDeck}]
}

// Lookup returns the metadata at ref, or nil.
func (h *HotCache) Lookup(ref proto.DeckRef) *proto.TrackMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries[ref]
}

// FindByTrackRef scans cached entries for one whose TrackRef matches track,
// used to serve a hot-cue hit without any network traffic. Iteration order
// over a Go map is unspecified; any matching entry found is returned.
func (h *HotCache) FindByTrackRef(track proto.TrackRef) *proto.TrackMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, metadata := range h.entries {
		if metadata != nil && metadata.TrackRef == track {
			return metadata
		}
	}
	return nil
}

// Snapshot returns an immutable point-in-time copy of the whole cache.
func (h *HotCache) Snapshot() map[proto.DeckRef]*proto.TrackMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[proto.DeckRef]*proto.TrackMetadata, len(h.entries))
	for ref, metadata := range h.entries {
		out[ref] = metadata
	}
	return out
}

// Clear empties the cache. Used on coordinator stop.
func (h *HotCache) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[proto.DeckRef]*proto.TrackMetadata)
}
