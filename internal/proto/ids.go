// Package proto defines the reference types and wire message model shared
// by every other package in the coordinator. Nothing here performs network
// I/O; it is the vocabulary the rest of the tree is built from.
package proto

import "fmt"

// DeviceID identifies a player on the network. Valid range is 1-4; devices
// outside that range are rejected for attach operations but otherwise
// logged and dropped by callers.
type DeviceID uint8

// MinDeviceID and MaxDeviceID bound the valid device range.
const (
	MinDeviceID DeviceID = 1
	MaxDeviceID DeviceID = 4
)

// Valid reports whether the device number falls in the supported range.
func (d DeviceID) Valid() bool {
	return d >= MinDeviceID && d <= MaxDeviceID
}

// SlotKind enumerates the media slot types a track can be sourced from.
type SlotKind uint8

const (
	SlotNoTrack SlotKind = iota
	SlotCD
	SlotSD
	SlotUSB
	SlotCollection
	SlotUnknown
)

func (s SlotKind) String() string {
	switch s {
	case SlotNoTrack:
		return "NO_TRACK"
	case SlotCD:
		return "CD"
	case SlotSD:
		return "SD"
	case SlotUSB:
		return "USB"
	case SlotCollection:
		return "COLLECTION"
	default:
		return "UNKNOWN"
	}
}

// SupportsArchive reports whether a slot of this kind can have an on-disk
// archive attached to it. Only SD and USB slots qualify.
func (s SlotKind) SupportsArchive() bool {
	return s == SlotSD || s == SlotUSB
}

// SlotRef names a single media slot on a single device. It is a plain value
// type: equality is field-wise and it is safe to use as a map key.
type SlotRef struct {
	Device DeviceID
	Slot   SlotKind
}

func (r SlotRef) String() string {
	return fmt.Sprintf("device %d / %s", r.Device, r.Slot)
}

// HotCueIndex identifies a deck within a device: 0 is the main deck, 1..N
// are hot-cue aliases.
type HotCueIndex uint8

// MainDeck is the HotCueIndex of a device's primary playback deck.
const MainDeck HotCueIndex = 0

// DeckRef names a logical playback surface: the main deck of a device, or
// one of its hot-cue slots.
type DeckRef struct {
	Device DeviceID
	HotCue HotCueIndex
}

func (r DeckRef) String() string {
	if r.HotCue == MainDeck {
		return fmt.Sprintf("device %d main deck", r.Device)
	}
	return fmt.Sprintf("device %d hot cue %d", r.Device, r.HotCue)
}

// TrackRef identifies a track by where it lives rather than by whatever
// device currently has it loaded, since players can load media hosted on
// another player's slot.
type TrackRef struct {
	SourceDevice DeviceID
	Slot         SlotKind
	RekordboxID  uint32
}

func (t TrackRef) String() string {
	return fmt.Sprintf("track %d on %s", t.RekordboxID, SlotRef{Device: t.SourceDevice, Slot: t.Slot})
}

// SlotRef returns the media slot this track is sourced from.
func (t TrackRef) SlotRef() SlotRef {
	return SlotRef{Device: t.SourceDevice, Slot: t.Slot}
}
