// Package archivebuild implements the archive builder: for a slot, walk a
// track listing and stream each track's raw protocol responses into an
// archive, with progress reporting and cooperative cancellation.
package archivebuild

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arung-agamani/djlink/internal/archive"
	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/fetch"
	"github.com/arung-agamani/djlink/internal/proto"
)

// ProgressFunc is called after each track with the metadata just written
// (nil if the track had none), the number of tracks completed so far, and
// the total. Returning false requests cancellation: the builder closes and
// deletes the partial output and returns cdjerr.Cancelled.
type ProgressFunc func(metadata *proto.TrackMetadata, completed, total int) bool

// Builder streams a slot's track listing into an on-disk archive.
type Builder struct {
	pool    client.Pool
	fetcher *fetch.Fetcher
}

// NewBuilder returns a Builder that borrows client sessions from pool.
func NewBuilder(pool client.Pool, fetcher *fetch.Fetcher) *Builder {
	return &Builder{pool: pool, fetcher: fetcher}
}

// Build enumerates slot's track listing (playlistID == 0 means "every
// track") and streams each track's raw responses into dest. progress may
// be nil. The caller is responsible for having already confirmed the
// coordinator is in passive mode — Build does not check this itself.
func (b *Builder) Build(ctx context.Context, slot proto.SlotRef, playlistID uint32, dest string, progress ProgressFunc) error {
	buildID := uuid.NewString()
	log := slog.With("build_id", buildID, "slot", slot, "dest", dest)
	log.Info("starting archive build")

	var listing []*proto.Message
	err := b.pool.WithClient(ctx, slot.Device, func(c client.Client) error {
		var err error
		if playlistID == 0 {
			listing, err = b.fetcher.QueryFullTrackList(ctx, c, slot.Slot)
		} else {
			listing, err = b.fetcher.QueryPlaylist(ctx, c, slot.Slot, 0, playlistID, false)
		}
		return err
	})
	if err != nil {
		return err
	}

	writer, err := archive.NewWriter(dest)
	if err != nil {
		return err
	}
	cleanOutput := false
	defer func() {
		if !cleanOutput {
			writer.Abort()
		}
	}()

	if err := writer.WriteVersion(); err != nil {
		return err
	}

	seenArtwork := make(map[uint32]struct{})
	total := len(listing)

	for i, entry := range listing {
		if entry.Type != proto.TypeTrackListEntry && entry.Type != proto.TypePlaylistEntry {
			return fmt.Errorf("%w: track list entry %d has type %v", cdjerr.UnexpectedItem, i, entry.Type)
		}
		rekordboxID := entry.Arg(1)

		metadata, writeErr := b.buildOneTrack(ctx, slot, rekordboxID, writer, seenArtwork, log)
		if writeErr != nil {
			return writeErr
		}

		if progress != nil && !progress(metadata, i+1, total) {
			log.Info("archive build cancelled by progress listener", "completed", i+1, "total", total)
			return cdjerr.Cancelled
		}
	}

	if err := writer.Close(); err != nil {
		return err
	}
	cleanOutput = true
	log.Info("archive build complete", "tracks", total)
	return nil
}

// buildOneTrack fetches and writes every entry for one track id, in the
// order a streaming reader expects: metadata, artwork (deduplicated within
// the build), beat grid, cue list, waveform preview, waveform detail.
func (b *Builder) buildOneTrack(ctx context.Context, slot proto.SlotRef, id uint32, w *archive.Writer, seenArtwork map[uint32]struct{}, log *slog.Logger) (*proto.TrackMetadata, error) {
	track := proto.TrackRef{SourceDevice: slot.Device, Slot: slot.Slot, RekordboxID: id}

	var metadata *proto.TrackMetadata
	var beatGrid *proto.BeatGrid
	var cueListMsg *proto.Message
	var wavePrev *proto.WaveformPreview
	var waveform *proto.WaveformDetail

	err := b.pool.WithClient(ctx, slot.Device, func(c client.Client) error {
		var err error

		metadata, err = b.fetcher.QueryMetadata(ctx, c, track)
		if err != nil {
			return err
		}
		if metadata != nil {
			if err := w.WriteMetadata(id, metadata.RawItems); err != nil {
				return err
			}
			if metadata.HasArtwork {
				if _, already := seenArtwork[metadata.ArtworkID]; !already {
					art, err := b.fetcher.QueryArtwork(ctx, c, slot.Slot, metadata.ArtworkID)
					if err != nil {
						return err
					}
					if art != nil {
						if err := w.WriteArtwork(art.ArtworkID, art.Blob); err != nil {
							return err
						}
					}
					seenArtwork[metadata.ArtworkID] = struct{}{}
				}
			}
		}

		beatGrid, err = b.fetcher.QueryBeatGrid(ctx, c, track)
		if err != nil {
			return err
		}
		cueListMsg, err = cueListResponse(ctx, c, b.fetcher, slot.Slot, id)
		if err != nil {
			return err
		}
		wavePrev, err = b.fetcher.QueryWaveformPreview(ctx, c, track)
		if err != nil {
			return err
		}
		waveform, err = b.fetcher.QueryWaveformDetail(ctx, c, track)
		return err
	})
	if err != nil {
		return nil, err
	}

	if beatGrid != nil {
		if err := w.WriteBeatGrid(id, beatGrid.RawMessage); err != nil {
			return nil, err
		}
	}
	if cueListMsg != nil {
		if err := w.WriteCueList(id, cueListMsg); err != nil {
			return nil, err
		}
	}
	if wavePrev != nil {
		if err := w.WriteWavePreview(id, wavePrev.RawMessage); err != nil {
			return nil, err
		}
	}
	if waveform != nil {
		if err := w.WriteWaveformDetail(id, waveform.RawMessage); err != nil {
			return nil, err
		}
	}

	return metadata, nil
}

// cueListResponse re-issues CUE_LIST_REQ to capture its own raw response
// message separately from the copy embedded while building metadata — the
// archive keeps this second fetch as the authoritative serialized form.
func cueListResponse(ctx context.Context, c client.Client, f *fetch.Fetcher, slot proto.SlotKind, id uint32) (*proto.Message, error) {
	cueList, err := f.QueryCueList(ctx, c, slot, id)
	if err != nil {
		return nil, err
	}
	if cueList == nil {
		return nil, nil
	}
	return cueList.RawMessage, nil
}
