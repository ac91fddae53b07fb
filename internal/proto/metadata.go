package proto

// Metadata item attribute kinds. A METADATA_ITEM message carries its
// attribute kind as field 0 and the value as field 1 (string-valued for
// title/artist, numeric for duration and artwork id).
const (
	AttrTitle uint32 = iota
	AttrArtist
	AttrDurationSeconds
	AttrArtworkID
)

// TrackMetadata is immutable after construction. RawItems is preserved
// verbatim — byte-identical to what the server returned — and is what
// gets re-emitted into an archive. Title/Artist/DurationSeconds/ArtworkID
// are derived conveniences parsed once at construction time; they are
// never authoritative and are never written back.
type TrackMetadata struct {
	TrackRef TrackRef
	RawItems []*Message
	CueList  *CueList

	Title           string
	Artist          string
	DurationSeconds uint32
	ArtworkID       uint32
	HasArtwork      bool
}

// NewTrackMetadata builds a TrackMetadata from the raw menu items a
// METADATA_REQ produced, parsing the derived convenience fields once.
func NewTrackMetadata(ref TrackRef, rawItems []*Message, cueList *CueList) *TrackMetadata {
	m := &TrackMetadata{
		TrackRef: ref,
		RawItems: rawItems,
		CueList:  cueList,
	}
	for _, item := range rawItems {
		if item.Type != TypeMetadataItem {
			continue
		}
		switch item.Arg(0) {
		case AttrTitle:
			m.Title = item.StrArg(1)
		case AttrArtist:
			m.Artist = item.StrArg(1)
		case AttrDurationSeconds:
			m.DurationSeconds = item.Arg(1)
		case AttrArtworkID:
			m.ArtworkID = item.Arg(1)
			m.HasArtwork = true
		}
	}
	return m
}

// CueEntry is one cue point: a memory cue (HotCueNumber == 0) or a hot cue
// (HotCueNumber 1..N).
type CueEntry struct {
	CueTimeMs    uint32
	HotCueNumber uint8
	IsMemoryCue  bool
}

// CueList is the parsed form of a CUE_LIST_REQ response. RawMessage is the
// single raw response message, retained so the archive's cueList/<id>
// entry can be re-emitted byte-identically.
type CueList struct {
	Entries    []CueEntry
	RawMessage *Message
}

// HotCueEntries returns the subset of Entries with a non-zero hot cue
// number, in order.
func (c *CueList) HotCueEntries() []CueEntry {
	var out []CueEntry
	for _, e := range c.Entries {
		if e.HotCueNumber != 0 {
			out = append(out, e)
		}
	}
	return out
}

// ParseCueList decodes a raw CUE_LIST_RESPONSE message. Field 0 is the
// entry count; each entry follows as a (timeMs, hotCueNumber) field pair.
func ParseCueList(msg *Message) *CueList {
	count := int(msg.Arg(0))
	cl := &CueList{RawMessage: msg, Entries: make([]CueEntry, 0, count)}
	for i := 0; i < count; i++ {
		timeIdx := 1 + i*2
		cueIdx := timeIdx + 1
		if cueIdx >= len(msg.Fields) {
			break
		}
		hotCue := uint8(msg.Arg(cueIdx))
		cl.Entries = append(cl.Entries, CueEntry{
			CueTimeMs:    msg.Arg(timeIdx),
			HotCueNumber: hotCue,
			IsMemoryCue:  hotCue == 0,
		})
	}
	return cl
}

// BeatGrid is an opaque per-track beat grid blob, retained with its raw
// response message for archive re-emit.
type BeatGrid struct {
	TrackRef   TrackRef
	Blob       []byte
	RawMessage *Message
}

// ParseBeatGrid wraps a raw beat-grid response for track. Field 0 is the
// opaque grid blob.
func ParseBeatGrid(ref TrackRef, msg *Message) *BeatGrid {
	return &BeatGrid{TrackRef: ref, Blob: msg.BlobArg(0), RawMessage: msg}
}

// WaveformPreview is the low-resolution waveform blob shown in a track
// overview.
type WaveformPreview struct {
	TrackRef   TrackRef
	Blob       []byte
	RawMessage *Message
}

// ParseWaveformPreview wraps a raw waveform-preview response for track.
func ParseWaveformPreview(ref TrackRef, msg *Message) *WaveformPreview {
	return &WaveformPreview{TrackRef: ref, Blob: msg.BlobArg(0), RawMessage: msg}
}

// WaveformDetail is the high-resolution, scrollable waveform blob.
type WaveformDetail struct {
	TrackRef   TrackRef
	Blob       []byte
	RawMessage *Message
}

// ParseWaveformDetail wraps a raw waveform-detail response for track.
func ParseWaveformDetail(ref TrackRef, msg *Message) *WaveformDetail {
	return &WaveformDetail{TrackRef: ref, Blob: msg.BlobArg(0), RawMessage: msg}
}

// AlbumArt is artwork keyed by artwork id (shared across tracks with the
// same embedded cover), not by track.
type AlbumArt struct {
	ArtworkID  uint32
	Blob       []byte
	RawMessage *Message
}

// ParseAlbumArt wraps a raw artwork response. Field 0 is the image blob.
func ParseAlbumArt(artworkID uint32, msg *Message) *AlbumArt {
	return &AlbumArt{ArtworkID: artworkID, Blob: msg.BlobArg(0), RawMessage: msg}
}
