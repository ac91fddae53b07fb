// Package fetch composes single-track protocol queries out of request and
// response message pairs. It never manages connections itself — callers
// provide a bound client.Client for the duration of each query.
package fetch

import (
	"context"
	"log/slog"

	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/proto"
)

// Fetcher issues the protocol queries needed to populate a TrackMetadata
// and its associated blobs.
type Fetcher struct{}

// NewFetcher returns a Fetcher. It holds no state of its own; everything it
// needs is passed in per call.
func NewFetcher() *Fetcher {
	return &Fetcher{}
}

// QueryMetadata issues METADATA_REQ for track's main menu. A "no results"
// sentinel returns (nil, nil), not an error. On success it also fetches the
// track's cue list and returns a fully populated TrackMetadata.
func (f *Fetcher) QueryMetadata(ctx context.Context, c client.Client, track proto.TrackRef) (*proto.TrackMetadata, error) {
	req := &proto.Message{
		Type: proto.TypeMetadataRequest,
		Fields: []proto.Field{
			proto.NumberField(uint32(track.Slot)),
			proto.NumberField(track.RekordboxID),
		},
	}
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	menu, err := c.ReadMenu(ctx)
	if err != nil {
		return nil, err
	}
	if menu.Header.IsNoResultsMenu() {
		return nil, nil
	}

	cueList, err := f.QueryCueList(ctx, c, track.Slot, track.RekordboxID)
	if err != nil {
		return nil, err
	}

	return proto.NewTrackMetadata(track, menu.Items, cueList), nil
}

// QueryCueList issues CUE_LIST_REQ. A response of the wrong type is logged
// and treated as absent — some tracks are observed to answer this way.
func (f *Fetcher) QueryCueList(ctx context.Context, c client.Client, slot proto.SlotKind, id uint32) (*proto.CueList, error) {
	req := &proto.Message{
		Type:   proto.TypeCueListRequest,
		Fields: []proto.Field{proto.NumberField(uint32(slot)), proto.NumberField(id)},
	}
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	menu, err := c.ReadMenu(ctx)
	if err != nil {
		return nil, err
	}
	if menu.Header.IsNoResultsMenu() {
		return nil, nil
	}
	if menu.Header.Type != proto.TypeCueListResponse {
		slog.Warn("unexpected response type for cue list query", "id", id, "type", menu.Header.Type)
		return nil, nil
	}
	return proto.ParseCueList(menu.Header), nil
}

// QueryFullTrackList issues TRACK_LIST_REQ with sort=0 and returns the raw
// item messages.
func (f *Fetcher) QueryFullTrackList(ctx context.Context, c client.Client, slot proto.SlotKind) ([]*proto.Message, error) {
	req := &proto.Message{
		Type:   proto.TypeTrackListRequest,
		Fields: []proto.Field{proto.NumberField(uint32(slot)), proto.NumberField(0)},
	}
	return f.menuItems(ctx, c, req)
}

// QueryPlaylist issues PLAYLIST_REQ for a playlist or folder id.
func (f *Fetcher) QueryPlaylist(ctx context.Context, c client.Client, slot proto.SlotKind, sortOrder uint32, id uint32, isFolder bool) ([]*proto.Message, error) {
	folderFlag := uint32(0)
	if isFolder {
		folderFlag = 1
	}
	req := &proto.Message{
		Type: proto.TypePlaylistRequest,
		Fields: []proto.Field{
			proto.NumberField(uint32(slot)),
			proto.NumberField(sortOrder),
			proto.NumberField(id),
			proto.NumberField(folderFlag),
		},
	}
	return f.menuItems(ctx, c, req)
}

// QueryWaveformPreview issues the waveform-preview request and returns the
// parsed blob wrapper, or nil if the device has none for this track.
func (f *Fetcher) QueryWaveformPreview(ctx context.Context, c client.Client, track proto.TrackRef) (*proto.WaveformPreview, error) {
	msg, err := f.singleResponse(ctx, c, proto.TypeWaveformPreviewRequest, proto.TypeWaveformPreviewResponse, track.Slot, track.RekordboxID)
	if err != nil || msg == nil {
		return nil, err
	}
	return proto.ParseWaveformPreview(track, msg), nil
}

// QueryWaveformDetail issues the waveform-detail request.
func (f *Fetcher) QueryWaveformDetail(ctx context.Context, c client.Client, track proto.TrackRef) (*proto.WaveformDetail, error) {
	msg, err := f.singleResponse(ctx, c, proto.TypeWaveformDetailRequest, proto.TypeWaveformDetailResponse, track.Slot, track.RekordboxID)
	if err != nil || msg == nil {
		return nil, err
	}
	return proto.ParseWaveformDetail(track, msg), nil
}

// QueryBeatGrid issues the beat-grid request.
func (f *Fetcher) QueryBeatGrid(ctx context.Context, c client.Client, track proto.TrackRef) (*proto.BeatGrid, error) {
	msg, err := f.singleResponse(ctx, c, proto.TypeBeatGridRequest, proto.TypeBeatGridResponse, track.Slot, track.RekordboxID)
	if err != nil || msg == nil {
		return nil, err
	}
	return proto.ParseBeatGrid(track, msg), nil
}

// QueryArtwork issues ARTWORK_REQ for artworkID on slot. Artwork is keyed
// by artwork id rather than track, so this takes the slot directly.
func (f *Fetcher) QueryArtwork(ctx context.Context, c client.Client, slot proto.SlotKind, artworkID uint32) (*proto.AlbumArt, error) {
	msg, err := f.singleResponse(ctx, c, proto.TypeArtworkRequest, proto.TypeArtworkResponse, slot, artworkID)
	if err != nil || msg == nil {
		return nil, err
	}
	return proto.ParseAlbumArt(artworkID, msg), nil
}

func (f *Fetcher) singleResponse(ctx context.Context, c client.Client, reqType, wantType proto.MessageType, slot proto.SlotKind, id uint32) (*proto.Message, error) {
	req := &proto.Message{
		Type:   reqType,
		Fields: []proto.Field{proto.NumberField(uint32(slot)), proto.NumberField(id)},
	}
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	menu, err := c.ReadMenu(ctx)
	if err != nil {
		return nil, err
	}
	if menu.Header.IsNoResultsMenu() {
		return nil, nil
	}
	if menu.Header.Type != wantType {
		slog.Warn("unexpected response type", "id", id, "want", wantType, "got", menu.Header.Type)
		return nil, nil
	}
	return menu.Header, nil
}

func (f *Fetcher) menuItems(ctx context.Context, c client.Client, req *proto.Message) ([]*proto.Message, error) {
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	menu, err := c.ReadMenu(ctx)
	if err != nil {
		return nil, err
	}
	if menu.Header.IsNoResultsMenu() {
		return nil, nil
	}
	return menu.Items, nil
}
