package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arung-agamani/djlink/internal/proto"
)

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var got int
	unsub := b.OnMount(func(MountEvent) { got++ })

	b.EmitMount(MountEvent{Slot: proto.SlotRef{Device: 1, Slot: proto.SlotUSB}, Mounted: true})
	unsub()
	unsub()
	b.EmitMount(MountEvent{Slot: proto.SlotRef{Device: 1, Slot: proto.SlotUSB}, Mounted: false})

	assert.Equal(t, 1, got)
}

func TestBus_NilListenerIsIgnored(t *testing.T) {
	b := New()
	unsub := b.OnMetadata(nil)
	unsub()
	b.EmitMetadata(MetadataEvent{Device: 1})
}

func TestBus_PanickingListenerDoesNotAffectOthers(t *testing.T) {
	b := New()
	var delivered int
	b.OnArchive(func(ArchiveEvent) { panic("listener bug") })
	b.OnArchive(func(ArchiveEvent) { delivered++ })

	b.EmitArchive(ArchiveEvent{Slot: proto.SlotRef{Device: 2, Slot: proto.SlotSD}, Attached: true})

	assert.Equal(t, 1, delivered)
}

func TestBus_RegistrationDuringDeliveryAffectsNextDeliveryOnly(t *testing.T) {
	b := New()
	var lateCalls int
	b.OnMetadata(func(MetadataEvent) {
		b.OnMetadata(func(MetadataEvent) { lateCalls++ })
	})

	b.EmitMetadata(MetadataEvent{Device: 1})
	assert.Equal(t, 0, lateCalls, "a listener added mid-delivery must not see the current event")

	b.EmitMetadata(MetadataEvent{Device: 1})
	assert.Equal(t, 1, lateCalls)
}
