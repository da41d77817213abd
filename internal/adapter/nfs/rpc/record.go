package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF

	// DefaultMaxRecordSize bounds a reassembled record read from a
	// callback service.
	DefaultMaxRecordSize = 1 << 20
)

// AddRecordMark frames msg as a single last fragment (RFC 5531 Section 11).
func AddRecordMark(msg []byte) []byte {
	framed := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(framed[0:4], uint32(len(msg))|lastFragmentBit)
	copy(framed[4:], msg)
	return framed
}

// ReadRecord reads fragments from r until the last-fragment bit and returns
// the reassembled record. maxSize bounds the total record length.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	var record []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		mark := binary.BigEndian.Uint32(hdr[:])
		fragLen := mark & fragmentLenMask

		if uint64(len(record))+uint64(fragLen) > uint64(maxSize) {
			return nil, fmt.Errorf("record size %d exceeds maximum %d", uint64(len(record))+uint64(fragLen), maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, fragLen)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment body: %w", err)
		}

		if mark&lastFragmentBit != 0 {
			return record, nil
		}
	}
}
