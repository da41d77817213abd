package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ============================================================================
// Encoding
// ============================================================================

// Pad returns the number of zero bytes needed after n bytes of data.
func Pad(n uint32) uint32 {
	return (4 - (n % 4)) % 4
}

// WriteXDROpaque writes variable-length opaque data: length, bytes, padding.
//
// Example:
//
//	[]byte{0x01, 0x02, 0x03} -> [00 00 00 03][01 02 03][00]
func WriteXDROpaque(buf *bytes.Buffer, data []byte) error {
	length := uint32(len(data))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write opaque length: %w", err)
	}
	buf.Write(data)
	return WriteXDRPadding(buf, length)
}

// WriteXDRFixedOpaque writes fixed-length opaque data (no length prefix).
// Used for sessionid4 and the "other" field of stateid4.
func WriteXDRFixedOpaque(buf *bytes.Buffer, data []byte) error {
	buf.Write(data)
	return WriteXDRPadding(buf, uint32(len(data)))
}

// WriteXDRString writes an XDR string; the encoding is the same as opaque.
func WriteXDRString(buf *bytes.Buffer, s string) error {
	length := uint32(len(s))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}
	buf.WriteString(s)
	return WriteXDRPadding(buf, length)
}

// WriteXDRPadding writes the zero padding that follows dataLen bytes.
func WriteXDRPadding(buf *bytes.Buffer, dataLen uint32) error {
	var zero [3]byte
	if p := Pad(dataLen); p > 0 {
		buf.Write(zero[:p])
	}
	return nil
}

// WriteUint32 writes a big-endian unsigned 32-bit integer.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
	return nil
}

// WriteUint64 writes a big-endian unsigned hyper.
func WriteUint64(buf *bytes.Buffer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
	return nil
}

// WriteInt32 writes a two's complement 32-bit integer.
func WriteInt32(buf *bytes.Buffer, v int32) error {
	return WriteUint32(buf, uint32(v))
}

// WriteBool writes a boolean as uint32 0 or 1.
func WriteBool(buf *bytes.Buffer, v bool) error {
	if v {
		return WriteUint32(buf, 1)
	}
	return WriteUint32(buf, 0)
}

// WriteUint32Array writes a counted array of uint32 values.
func WriteUint32Array(buf *bytes.Buffer, vals []uint32) error {
	if err := WriteUint32(buf, uint32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return nil
}
