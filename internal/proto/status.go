package proto

// TrackType classifies the kind of track a device reports as loaded. Only
// TrackRekordbox carries a rekordbox id the coordinator can query metadata
// for.
type TrackType uint8

const (
	TrackNone TrackType = iota
	TrackRekordbox
	TrackUnanalyzed
	TrackCD
)

// SlotMountState is the tri-state reported by a device for one of its
// removable media slots across a status update.
type SlotMountState uint8

const (
	// SlotMountUnchanged means this status carries no new information about
	// the slot — the handler must not treat it as a mount transition.
	SlotMountUnchanged SlotMountState = iota
	SlotMountEmpty
	SlotMountLoaded
)

// CdjStatus is one status packet as ingested by the event pipeline. It is a
// plain data holder: the pipeline (C10), not this package, interprets it.
type CdjStatus struct {
	// Device is the player number that sent this status.
	Device DeviceID

	// TrackType, SourceDevice, SourceSlot, and RekordboxID together describe
	// what is loaded on Device's main deck, and where it actually lives
	// (which may be a different device's slot).
	TrackType    TrackType
	SourceDevice DeviceID
	SourceSlot   SlotKind
	RekordboxID  uint32

	// USBState and SDState report this status's view of Device's own two
	// removable slots. SlotMountUnchanged means the status is silent on
	// that slot (e.g. a non-mount-related refresh).
	USBState SlotMountState
	SDState  SlotMountState
}

// HasRekordboxTrack reports whether this status describes a usable
// rekordbox track load: wrong track type, an empty or unknown source slot,
// or a zero id all count as "no track."
func (s CdjStatus) HasRekordboxTrack() bool {
	if s.TrackType != TrackRekordbox {
		return false
	}
	if s.SourceSlot == SlotNoTrack || s.SourceSlot == SlotUnknown {
		return false
	}
	return s.RekordboxID != 0
}

// TrackRefValue builds the TrackRef this status names. Only meaningful when
// HasRekordboxTrack is true.
func (s CdjStatus) TrackRefValue() TrackRef {
	return TrackRef{SourceDevice: s.SourceDevice, Slot: s.SourceSlot, RekordboxID: s.RekordboxID}
}
