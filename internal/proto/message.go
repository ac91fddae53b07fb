package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/arung-agamani/djlink/internal/cdjerr"
)

// ErrTruncated is returned when a stream ends before a complete message (or
// a complete field within a message) has been read.
var ErrTruncated = cdjerr.Truncated

// MessageType distinguishes request/response kinds on the wire. The exact
// numeric values mirror the shape of the request/response pairs named in
// the fetcher (metadata, cue list, track list, playlist, artwork, beat
// grid, waveform preview/detail) plus the menu item and footer kinds used
// to frame a menu response.
type MessageType uint16

const (
	TypeMetadataRequest MessageType = iota + 1
	TypeMetadataItem
	TypeCueListRequest
	TypeCueListResponse
	TypeTrackListRequest
	TypeTrackListEntry
	TypePlaylistRequest
	TypePlaylistEntry
	TypeArtworkRequest
	TypeArtworkResponse
	TypeBeatGridRequest
	TypeBeatGridResponse
	TypeWaveformPreviewRequest
	TypeWaveformPreviewResponse
	TypeWaveformDetailRequest
	TypeWaveformDetailResponse
	TypeMenuHeader
	TypeMenuFooter
	TypeNoMenuResults
)

// FieldKind tags the type of a single field value within a Message.
type FieldKind uint8

const (
	FieldNumber FieldKind = iota
	FieldString
	FieldBlob
)

// Field is one entry of a Message's tagged-union field list.
type Field struct {
	Kind   FieldKind
	Number uint32
	Str    string
	Blob   []byte
}

// NumberField builds a numeric field.
func NumberField(v uint32) Field { return Field{Kind: FieldNumber, Number: v} }

// StringField builds a UTF-8 string field.
func StringField(v string) Field { return Field{Kind: FieldString, Str: v} }

// BlobField builds a binary blob field.
func BlobField(v []byte) Field { return Field{Kind: FieldBlob, Blob: v} }

// Message is a tagged union of typed fields: the frozen representation of
// one protocol response. A Message produced by Read and passed back to
// Write reproduces the exact bytes it was read from — this is load-bearing
// for the archive format, which re-emits these messages verbatim.
type Message struct {
	Type   MessageType
	Fields []Field
}

// Arg returns the numeric value of the field at index i, or 0 if out of
// range or not a number field. Used throughout the fetcher to pull out
// conventional positional arguments (e.g. "the second argument is the
// rekordbox id").
func (m *Message) Arg(i int) uint32 {
	if i < 0 || i >= len(m.Fields) || m.Fields[i].Kind != FieldNumber {
		return 0
	}
	return m.Fields[i].Number
}

// StrArg returns the string value of the field at index i, or "" if out of
// range or not a string field.
func (m *Message) StrArg(i int) string {
	if i < 0 || i >= len(m.Fields) || m.Fields[i].Kind != FieldString {
		return ""
	}
	return m.Fields[i].Str
}

// BlobArg returns the blob value of the field at index i, or nil if out of
// range or not a blob field.
func (m *Message) BlobArg(i int) []byte {
	if i < 0 || i >= len(m.Fields) || m.Fields[i].Kind != FieldBlob {
		return nil
	}
	return m.Fields[i].Blob
}

// IsNoResultsMenu reports whether this message is the sentinel menu header
// meaning "no results" (NO_MENU_RESULTS_AVAILABLE) rather than an
// error — callers must return an empty list, not fail.
func (m *Message) IsNoResultsMenu() bool {
	return m.Type == TypeNoMenuResults
}

// Footer is the zero-length sentinel message used to delimit a run of menu
// items, both on the wire and in the archive format.
func Footer() *Message {
	return &Message{Type: TypeMenuFooter, Fields: nil}
}

// ReadMessage reads exactly one message from r. An EOF before a complete
// message (including a short field body) is reported as ErrTruncated.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, truncatedOrErr(err)
	}

	msg := &Message{
		Type: MessageType(binary.BigEndian.Uint16(header[0:2])),
	}
	count := int(binary.BigEndian.Uint16(header[2:4]))
	msg.Fields = make([]Field, 0, count)

	for i := 0; i < count; i++ {
		f, err := readField(r)
		if err != nil {
			return nil, err
		}
		msg.Fields = append(msg.Fields, f)
	}

	return msg, nil
}

func readField(r io.Reader) (Field, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Field{}, truncatedOrErr(err)
	}

	switch FieldKind(tag[0]) {
	case FieldNumber:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Field{}, truncatedOrErr(err)
		}
		return NumberField(binary.BigEndian.Uint32(buf[:])), nil

	case FieldString:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return Field{}, err
		}
		return StringField(string(b)), nil

	case FieldBlob:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return Field{}, err
		}
		return BlobField(b), nil

	default:
		return Field{}, fmt.Errorf("proto: unknown field tag %d", tag[0])
	}
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, truncatedOrErr(err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, truncatedOrErr(err)
		}
	}
	return buf, nil
}

func truncatedOrErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

// WriteMessage writes m to w byte-identically to how ReadMessage would
// have produced it from the resulting bytes.
func WriteMessage(w io.Writer, m *Message) error {
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(m.Type))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(m.Fields)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	for _, f := range m.Fields {
		if err := writeField(w, f); err != nil {
			return err
		}
	}
	return nil
}

func writeField(w io.Writer, f Field) error {
	if _, err := w.Write([]byte{byte(f.Kind)}); err != nil {
		return err
	}

	switch f.Kind {
	case FieldNumber:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], f.Number)
		_, err := w.Write(buf[:])
		return err

	case FieldString:
		return writeLengthPrefixed(w, []byte(f.Str))

	case FieldBlob:
		return writeLengthPrefixed(w, f.Blob)

	default:
		return fmt.Errorf("proto: unknown field kind %d", f.Kind)
	}
}

func writeLengthPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(b) > 0 {
		_, err := w.Write(b)
		return err
	}
	return nil
}

// MenuResponse is a header message, its item messages, and the terminating
// MENU_FOOTER sentinel, exactly as framed on the wire.
type MenuResponse struct {
	Header *Message
	Items  []*Message
}

// ReadMenu reads a header message followed by item messages until it sees
// a MENU_FOOTER message. If the header is the "no results" sentinel, Items
// is returned empty (not an error) without attempting to read a footer,
// since devices do not send one for an empty result set.
func ReadMenu(r io.Reader) (*MenuResponse, error) {
	header, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}

	menu := &MenuResponse{Header: header}
	if header.IsNoResultsMenu() {
		return menu, nil
	}

	for {
		item, err := ReadMessage(r)
		if err != nil {
			return nil, err
		}
		if item.Type == TypeMenuFooter {
			return menu, nil
		}
		menu.Items = append(menu.Items, item)
	}
}

// WriteMenu writes a full menu response (header, items, footer) to w.
func WriteMenu(w io.Writer, menu *MenuResponse) error {
	if err := WriteMessage(w, menu.Header); err != nil {
		return err
	}
	if menu.Header.IsNoResultsMenu() {
		return nil
	}
	for _, item := range menu.Items {
		if err := WriteMessage(w, item); err != nil {
			return err
		}
	}
	return WriteMessage(w, Footer())
}
