package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genField(t *rapid.T) Field {
	switch rapid.IntRange(0, 2).Draw(t, "kind") {
	case 0:
		return NumberField(rapid.Uint32().Draw(t, "number"))
	case 1:
		return StringField(rapid.String().Draw(t, "str"))
	default:
		return BlobField(rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "blob"))
	}
}

func genMessage(t *rapid.T) *Message {
	count := rapid.IntRange(0, 8).Draw(t, "fieldCount")
	fields := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		fields = append(fields, genField(t))
	}
	return &Message{
		Type:   MessageType(rapid.Uint16Range(1, uint16(TypeNoMenuResults)).Draw(t, "type")),
		Fields: fields,
	}
}

// TestMessage_RoundTripIsByteIdentical checks the contract the archive
// format depends on: a message read from a byte stream and written back
// reproduces the exact bytes it was read from.
func TestMessage_RoundTripIsByteIdentical(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := genMessage(t)

		var first bytes.Buffer
		require.NoError(t, WriteMessage(&first, original))

		read, err := ReadMessage(bytes.NewReader(first.Bytes()))
		require.NoError(t, err)

		var second bytes.Buffer
		require.NoError(t, WriteMessage(&second, read))

		assert.Equal(t, first.Bytes(), second.Bytes())
	})
}

func TestReadMessage_TruncatedStreamFails(t *testing.T) {
	msg := &Message{Type: TypeMetadataItem, Fields: []Field{
		NumberField(AttrTitle), StringField("A Track"),
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	full := buf.Bytes()
	for cut := 0; cut < len(full); cut++ {
		_, err := ReadMessage(bytes.NewReader(full[:cut]))
		assert.ErrorIs(t, err, ErrTruncated, "cut at %d bytes", cut)
	}
}

func TestReadMenu_StopsAtFooter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMenu(&buf, &MenuResponse{
		Header: &Message{Type: TypeMenuHeader},
		Items: []*Message{
			{Type: TypeMetadataItem, Fields: []Field{NumberField(AttrTitle), StringField("One")}},
			{Type: TypeMetadataItem, Fields: []Field{NumberField(AttrArtist), StringField("Someone")}},
		},
	}))

	menu, err := ReadMenu(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, menu.Items, 2)
}

func TestReadMenu_NoResultsSentinelMeansEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, &Message{Type: TypeNoMenuResults}))

	menu, err := ReadMenu(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, menu.Items)
	assert.True(t, menu.Header.IsNoResultsMenu())
}
