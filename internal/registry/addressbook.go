package registry

import (
	"sync"

	"github.com/arung-agamani/djlink/internal/proto"
)

// AddressBook tracks which devices are currently announced on the network
// and the address their query service listens on. It exists as its own
// type, rather than living inside the coordinator, so it can be
// constructed once and handed to both the client pool (as an
// AddressResolver) and the coordinator (as an AnnouncedChecker) without
// either depending on the other's construction order.
type AddressBook struct {
	mu        sync.RWMutex
	addresses map[proto.DeviceID]string
}

// NewAddressBook returns an empty AddressBook.
func NewAddressBook() *AddressBook {
	return &AddressBook{addresses: make(map[proto.DeviceID]string)}
}

// Put records device as present at addr.
func (b *AddressBook) Put(device proto.DeviceID, addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses[device] = addr
}

// Remove forgets device.
func (b *AddressBook) Remove(device proto.DeviceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addresses, device)
}

// Clear forgets every device.
func (b *AddressBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses = make(map[proto.DeviceID]string)
}

// IsAnnounced implements AnnouncedChecker.
func (b *AddressBook) IsAnnounced(device proto.DeviceID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.addresses[device]
	return ok
}

// Address implements client.AddressResolver.
func (b *AddressBook) Address(device proto.DeviceID) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.addresses[device]
	return addr, ok
}
