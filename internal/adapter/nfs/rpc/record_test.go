package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRecordMark(t *testing.T) {
	framed := AddRecordMark([]byte{1, 2, 3, 4})
	require.Len(t, framed, 8)
	assert.Equal(t, uint32(0x80000004), binary.BigEndian.Uint32(framed[0:4]))
	assert.Equal(t, []byte{1, 2, 3, 4}, framed[4:])
}

func TestReadRecord_MultipleFragments(t *testing.T) {
	var stream bytes.Buffer
	_ = binary.Write(&stream, binary.BigEndian, uint32(2))
	stream.Write([]byte{0xA, 0xB})
	_ = binary.Write(&stream, binary.BigEndian, uint32(3)|0x80000000)
	stream.Write([]byte{0xC, 0xD, 0xE})

	rec, err := ReadRecord(&stream, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA, 0xB, 0xC, 0xD, 0xE}, rec)
}

func TestReadRecord_TooLarge(t *testing.T) {
	framed := AddRecordMark(make([]byte, 32))
	_, err := ReadRecord(bytes.NewReader(framed), 16)
	assert.Error(t, err)
}

func TestReadRecord_ShortBody(t *testing.T) {
	framed := AddRecordMark([]byte{1, 2, 3, 4})
	_, err := ReadRecord(bytes.NewReader(framed[:6]), 64)
	assert.Error(t, err)
}
