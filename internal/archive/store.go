// Package archive implements the on-disk archive format: a ZIP-compatible,
// DEFLATE-compressed container of named entries under a fixed prefix,
// holding raw protocol responses so metadata can be served without
// touching the device network.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/proto"
)

// FormatTag is the literal contents of the version entry. A reader that
// does not find exactly this string fails with cdjerr.BadFormat.
const FormatTag = "BeatLink Metadata Cache version 1"

const entryPrefix = "BLTMetaCache/"

func versionEntry() string           { return entryPrefix + "version" }
func metadataEntry(id uint32) string { return entryPrefix + "metadata/" + itoa(id) }
func artworkEntry(id uint32) string  { return entryPrefix + "artwork/" + itoa(id) + ".jpg" }
func beatGridEntry(id uint32) string { return entryPrefix + "beatGrid/" + itoa(id) }
func cueListEntry(id uint32) string  { return entryPrefix + "cueList/" + itoa(id) }
func wavePrevEntry(id uint32) string { return entryPrefix + "wavePrev/" + itoa(id) }
func waveformEntry(id uint32) string { return entryPrefix + "waveform/" + itoa(id) }

func itoa(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// Writer builds an archive at a temporary path and only publishes it (via
// rename) on a clean Close. Abort removes the partial file instead —
// callers building an archive use this on cancellation or error so no
// half-written file is ever left at the destination path.
type Writer struct {
	finalPath    string
	tempPath     string
	file         *os.File
	zw           *zip.Writer
	wroteVersion bool
}

// NewWriter creates a writer for an archive that will ultimately live at
// path. If path already exists it is removed first; a failed removal is
// logged and the build proceeds against the temp path regardless.
func NewWriter(path string) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove existing archive before rebuild", "path", path, "error", err)
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create temp archive %q: %v", cdjerr.IO, tempPath, err)
	}

	return &Writer{
		finalPath: path,
		tempPath:  tempPath,
		file:      f,
		zw:        zip.NewWriter(f),
	}, nil
}

// WriteVersion emits the version entry. Callers MUST call this before any
// other Write* method.
func (w *Writer) WriteVersion() error {
	fw, err := w.zw.Create(versionEntry())
	if err != nil {
		return fmt.Errorf("%w: create version entry: %v", cdjerr.IO, err)
	}
	if _, err := fw.Write([]byte(FormatTag)); err != nil {
		return fmt.Errorf("%w: write version entry: %v", cdjerr.IO, err)
	}
	w.wroteVersion = true
	return nil
}

// WriteMetadata writes metadata/<id>: each raw item message followed by a
// single MENU_FOOTER sentinel.
func (w *Writer) WriteMetadata(id uint32, items []*proto.Message) error {
	fw, err := w.zw.Create(metadataEntry(id))
	if err != nil {
		return fmt.Errorf("%w: create metadata entry: %v", cdjerr.IO, err)
	}
	for _, item := range items {
		if err := proto.WriteMessage(fw, item); err != nil {
			return fmt.Errorf("%w: write metadata item: %v", cdjerr.IO, err)
		}
	}
	if err := proto.WriteMessage(fw, proto.Footer()); err != nil {
		return fmt.Errorf("%w: write metadata footer: %v", cdjerr.IO, err)
	}
	return nil
}

// WriteArtwork writes a raw artwork blob.
func (w *Writer) WriteArtwork(artworkID uint32, blob []byte) error {
	return w.writeBlob(artworkEntry(artworkID), blob)
}

// WriteBeatGrid writes a single raw beat-grid response message.
func (w *Writer) WriteBeatGrid(id uint32, raw *proto.Message) error {
	return w.writeMessage(beatGridEntry(id), raw)
}

// WriteCueList writes a single raw cue-list response message. This is
// separate from whatever cue list was embedded while fetching metadata —
// it is the authoritative serialized form and the only source an archive
// reader consults.
func (w *Writer) WriteCueList(id uint32, raw *proto.Message) error {
	return w.writeMessage(cueListEntry(id), raw)
}

// WriteWavePreview writes a single raw waveform-preview response message.
func (w *Writer) WriteWavePreview(id uint32, raw *proto.Message) error {
	return w.writeMessage(wavePrevEntry(id), raw)
}

// WriteWaveformDetail writes a single raw waveform-detail response message.
func (w *Writer) WriteWaveformDetail(id uint32, raw *proto.Message) error {
	return w.writeMessage(waveformEntry(id), raw)
}

func (w *Writer) writeBlob(name string, blob []byte) error {
	fw, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("%w: create entry %q: %v", cdjerr.IO, name, err)
	}
	if _, err := fw.Write(blob); err != nil {
		return fmt.Errorf("%w: write entry %q: %v", cdjerr.IO, name, err)
	}
	return nil
}

func (w *Writer) writeMessage(name string, raw *proto.Message) error {
	fw, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("%w: create entry %q: %v", cdjerr.IO, name, err)
	}
	if err := proto.WriteMessage(fw, raw); err != nil {
		return fmt.Errorf("%w: write entry %q: %v", cdjerr.IO, name, err)
	}
	return nil
}

// Close finishes the zip stream and atomically publishes the archive at
// its final path.
func (w *Writer) Close() error {
	if !w.wroteVersion {
		slog.Warn("archive writer closed without a version entry", "path", w.finalPath)
	}
	if err := w.zw.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: finalize zip: %v", cdjerr.IO, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: close archive file: %v", cdjerr.IO, err)
	}
	if err := os.Rename(w.tempPath, w.finalPath); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: publish archive: %v", cdjerr.IO, err)
	}
	return nil
}

// Abort discards the partial archive: the zip stream and file are closed
// and the temp file removed. Used when a build is cancelled or fails
// midway — no half-written file is left at the destination path.
func (w *Writer) Abort() {
	_ = w.zw.Close()
	_ = w.file.Close()
	if err := os.Remove(w.tempPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial archive", "path", w.tempPath, "error", err)
	}
}

// Reader serves lookups against an opened archive.
type Reader struct {
	path   string
	zr     *zip.ReadCloser
	byName map[string]*zip.File
}

// OpenReader opens path and validates its version entry. Absent or
// mismatched version tags fail with cdjerr.BadFormat.
func OpenReader(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open archive %q: %v", cdjerr.IO, path, err)
	}

	r := &Reader{path: path, zr: zr, byName: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		r.byName[f.Name] = f
	}

	vf, ok := r.byName[versionEntry()]
	if !ok {
		zr.Close()
		return nil, fmt.Errorf("%w: %q has no version entry", cdjerr.BadFormat, path)
	}
	rc, err := vf.Open()
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: open version entry: %v", cdjerr.IO, err)
	}
	tag, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: read version entry: %v", cdjerr.IO, err)
	}
	if string(tag) != FormatTag {
		zr.Close()
		return nil, fmt.Errorf("%w: %q has version tag %q, want %q", cdjerr.BadFormat, path, tag, FormatTag)
	}

	return r, nil
}

// Path returns the filesystem path this reader was opened from.
func (r *Reader) Path() string { return r.path }

// ReadMetadata returns the raw item messages for metadata/<id>, stopping
// at the MENU_FOOTER sentinel. A missing entry returns (nil, nil) — the
// archive registry treats this as "no such track," not an error.
func (r *Reader) ReadMetadata(id uint32) ([]*proto.Message, error) {
	f, ok := r.byName[metadataEntry(id)]
	if !ok {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open metadata entry: %v", cdjerr.IO, err)
	}
	defer rc.Close()

	var items []*proto.Message
	for {
		msg, err := proto.ReadMessage(rc)
		if err != nil {
			slog.Warn("corrupt metadata entry", "archive", r.path, "id", id, "error", err)
			return nil, fmt.Errorf("%w: metadata entry for id %d", cdjerr.Corrupt, id)
		}
		if msg.Type == proto.TypeMenuFooter {
			return items, nil
		}
		items = append(items, msg)
	}
}

// ReadCueList returns the raw cue-list response message for id, or nil if
// absent. This is the only source consulted for cue lists on archive read
// — the copy embedded in a metadata fetch is never stored.
func (r *Reader) ReadCueList(id uint32) (*proto.Message, error) {
	return r.readSingleMessage(cueListEntry(id))
}

// ReadBeatGrid returns the raw beat-grid response message for id, or nil.
func (r *Reader) ReadBeatGrid(id uint32) (*proto.Message, error) {
	return r.readSingleMessage(beatGridEntry(id))
}

// ReadWavePreview returns the raw waveform-preview response message, or nil.
func (r *Reader) ReadWavePreview(id uint32) (*proto.Message, error) {
	return r.readSingleMessage(wavePrevEntry(id))
}

// ReadWaveformDetail returns the raw waveform-detail response message, or nil.
func (r *Reader) ReadWaveformDetail(id uint32) (*proto.Message, error) {
	return r.readSingleMessage(waveformEntry(id))
}

// ReadArtwork returns the raw artwork blob for artworkID, or nil if absent.
func (r *Reader) ReadArtwork(artworkID uint32) ([]byte, error) {
	f, ok := r.byName[artworkEntry(artworkID)]
	if !ok {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open artwork entry: %v", cdjerr.IO, err)
	}
	defer rc.Close()
	blob, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read artwork entry: %v", cdjerr.IO, err)
	}
	return blob, nil
}

func (r *Reader) readSingleMessage(name string) (*proto.Message, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open entry %q: %v", cdjerr.IO, name, err)
	}
	defer rc.Close()
	msg, err := proto.ReadMessage(rc)
	if err != nil {
		slog.Warn("corrupt archive entry", "archive", r.path, "entry", name, "error", err)
		return nil, fmt.Errorf("%w: entry %q", cdjerr.Corrupt, name)
	}
	return msg, nil
}

// Close releases the underlying archive file.
func (r *Reader) Close() error {
	return r.zr.Close()
}
