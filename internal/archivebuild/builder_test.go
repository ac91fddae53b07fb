package archivebuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/djlink/internal/archive"
	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/fetch"
	"github.com/arung-agamani/djlink/internal/proto"
)

// fakeClient answers every request with a canned, mostly-empty response,
// except for track listings and metadata, which are keyed off the message
// just sent. It is blind to connection state — exactly what the builder
// needs to exercise its track-by-track loop without a real device.
type fakeClient struct {
	lastSent proto.MessageType
	lastArg  uint32
	ids      []uint32
	titles   map[uint32]string
}

func (c *fakeClient) Send(ctx context.Context, msg *proto.Message) error {
	c.lastSent = msg.Type
	if len(msg.Fields) >= 2 {
		c.lastArg = msg.Arg(1)
	}
	return nil
}

func (c *fakeClient) ReadMenu(ctx context.Context) (*proto.MenuResponse, error) {
	switch c.lastSent {
	case proto.TypeTrackListRequest, proto.TypePlaylistRequest:
		entryType := proto.TypeTrackListEntry
		if c.lastSent == proto.TypePlaylistRequest {
			entryType = proto.TypePlaylistEntry
		}
		items := make([]*proto.Message, len(c.ids))
		for i, id := range c.ids {
			items[i] = &proto.Message{Type: entryType, Fields: []proto.Field{
				proto.NumberField(0), proto.NumberField(id),
			}}
		}
		return &proto.MenuResponse{Header: &proto.Message{Type: proto.TypeMenuHeader}, Items: items}, nil
	case proto.TypeMetadataRequest:
		title := c.titles[c.lastArg]
		if title == "" {
			return &proto.MenuResponse{Header: &proto.Message{Type: proto.TypeNoMenuResults}}, nil
		}
		return &proto.MenuResponse{
			Header: &proto.Message{Type: proto.TypeMenuHeader},
			Items: []*proto.Message{{
				Type: proto.TypeMetadataItem,
				Fields: []proto.Field{
					proto.NumberField(proto.AttrTitle), proto.StringField(title),
				},
			}},
		}, nil
	default:
		return &proto.MenuResponse{Header: &proto.Message{Type: proto.TypeNoMenuResults}}, nil
	}
}

type fakePool struct{ client *fakeClient }

func (p *fakePool) WithClient(ctx context.Context, device proto.DeviceID, fn func(client.Client) error) error {
	return fn(p.client)
}

func TestBuilder_BuildWritesEveryTrack(t *testing.T) {
	c := &fakeClient{ids: []uint32{1, 2, 3}, titles: map[uint32]string{1: "One", 2: "Two", 3: "Three"}}
	b := NewBuilder(&fakePool{client: c}, fetch.NewFetcher())

	dest := filepath.Join(t.TempDir(), "out.zip")
	var completedTitles []string
	err := b.Build(context.Background(), proto.SlotRef{Device: 1, Slot: proto.SlotUSB}, 0, dest, func(metadata *proto.TrackMetadata, completed, total int) bool {
		assert.Equal(t, 3, total)
		if metadata != nil {
			completedTitles = append(completedTitles, metadata.Title)
		}
		return true
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two", "Three"}, completedTitles)
	_, statErr := os.Stat(dest)
	assert.NoError(t, statErr, "a completed build must publish the archive at dest")
}

// TestBuilder_ArchiveRoundTripsRawItems checks that metadata read back out
// of a built archive is byte-identical to what the device returned during
// the build — the property the whole archive format exists to preserve.
func TestBuilder_ArchiveRoundTripsRawItems(t *testing.T) {
	c := &fakeClient{ids: []uint32{5}, titles: map[uint32]string{5: "Round Trip"}}
	b := NewBuilder(&fakePool{client: c}, fetch.NewFetcher())

	dest := filepath.Join(t.TempDir(), "out.zip")
	var built *proto.TrackMetadata
	err := b.Build(context.Background(), proto.SlotRef{Device: 1, Slot: proto.SlotUSB}, 0, dest, func(metadata *proto.TrackMetadata, completed, total int) bool {
		built = metadata
		return true
	})
	require.NoError(t, err)
	require.NotNil(t, built)

	reader, err := archive.OpenReader(dest)
	require.NoError(t, err)
	defer reader.Close()

	stored, err := reader.ReadMetadata(5)
	require.NoError(t, err)
	require.Len(t, stored, len(built.RawItems))

	for i := range stored {
		var want, got bytes.Buffer
		require.NoError(t, proto.WriteMessage(&want, built.RawItems[i]))
		require.NoError(t, proto.WriteMessage(&got, stored[i]))
		assert.Equal(t, want.Bytes(), got.Bytes(), "raw item %d must survive the archive byte-identically", i)
	}
}

func TestBuilder_CancelledByProgressAbortsOutput(t *testing.T) {
	c := &fakeClient{ids: []uint32{1, 2, 3}, titles: map[uint32]string{1: "One", 2: "Two", 3: "Three"}}
	b := NewBuilder(&fakePool{client: c}, fetch.NewFetcher())

	dest := filepath.Join(t.TempDir(), "out.zip")
	calls := 0
	err := b.Build(context.Background(), proto.SlotRef{Device: 1, Slot: proto.SlotUSB}, 0, dest, func(metadata *proto.TrackMetadata, completed, total int) bool {
		calls++
		return false
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cdjerr.Cancelled)
	assert.Equal(t, 1, calls, "the build must stop at the first track the listener declines to continue past")
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "a cancelled build must not leave a partial archive at dest")
}

func TestBuilder_EmptyListingProducesEmptyArchive(t *testing.T) {
	c := &fakeClient{ids: nil}
	b := NewBuilder(&fakePool{client: c}, fetch.NewFetcher())

	dest := filepath.Join(t.TempDir(), "out.zip")
	err := b.Build(context.Background(), proto.SlotRef{Device: 1, Slot: proto.SlotUSB}, 0, dest, nil)

	require.NoError(t, err)
	_, statErr := os.Stat(dest)
	assert.NoError(t, statErr)
}
