// Package registry holds the two pieces of mutable network-observed state
// that are not the hot cache itself: which slots currently report mounted
// media, and which slots have an archive attached.
package registry

import (
	"sync"

	"github.com/arung-agamani/djlink/internal/proto"
)

// MountRegistry is the set of SlotRef currently reporting mounted media.
type MountRegistry struct {
	mu      sync.RWMutex
	mounted map[proto.SlotRef]struct{}
}

// NewMountRegistry returns an empty MountRegistry.
func NewMountRegistry() *MountRegistry {
	return &MountRegistry{mounted: make(map[proto.SlotRef]struct{})}
}

// Mount records slot as mounted. Returns true if this is a transition (the
// slot was not already mounted) — callers use this to decide whether to
// emit a mount notification exactly once per transition.
func (m *MountRegistry) Mount(slot proto.SlotRef) (transitioned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounted[slot]; ok {
		return false
	}
	m.mounted[slot] = struct{}{}
	return true
}

// Unmount records slot as unmounted. Returns true if this is a transition.
func (m *MountRegistry) Unmount(slot proto.SlotRef) (transitioned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounted[slot]; !ok {
		return false
	}
	delete(m.mounted, slot)
	return true
}

// IsMounted reports whether slot is currently mounted.
func (m *MountRegistry) IsMounted(slot proto.SlotRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.mounted[slot]
	return ok
}

// Snapshot returns an immutable copy of the mounted set.
func (m *MountRegistry) Snapshot() map[proto.SlotRef]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[proto.SlotRef]struct{}, len(m.mounted))
	for s := range m.mounted {
		out[s] = struct{}{}
	}
	return out
}

// Clear empties the registry. Used on coordinator stop.
func (m *MountRegistry) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = make(map[proto.SlotRef]struct{})
}
