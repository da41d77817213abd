package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ============================================================================
// Decoding
// ============================================================================

// MaxOpaqueLength bounds any single variable-length item read from the wire.
const MaxOpaqueLength = 1024 * 1024

// DecodeOpaque reads variable-length opaque data and skips its padding.
func DecodeOpaque(r io.Reader) ([]byte, error) {
	return DecodeOpaqueMax(r, MaxOpaqueLength)
}

// DecodeOpaqueMax is DecodeOpaque with a caller-supplied length limit.
func DecodeOpaqueMax(r io.Reader, limit uint32) ([]byte, error) {
	length, err := DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if length > limit {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, limit)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if err := skipPadding(r, length); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeFixedOpaque fills dst from r and skips padding.
func DecodeFixedOpaque(r io.Reader, dst []byte) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("read fixed opaque: %w", err)
	}
	return skipPadding(r, uint32(len(dst)))
}

// DecodeString reads an XDR string.
func DecodeString(r io.Reader) (string, error) {
	data, err := DecodeOpaque(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeUint32 reads a big-endian unsigned 32-bit integer.
func DecodeUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// DecodeUint64 reads a big-endian unsigned hyper.
func DecodeUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// DecodeInt32 reads a two's complement 32-bit integer.
func DecodeInt32(r io.Reader) (int32, error) {
	v, err := DecodeUint32(r)
	return int32(v), err
}

// DecodeBool reads an XDR boolean. Values other than 0 and 1 are rejected.
func DecodeBool(r io.Reader) (bool, error) {
	v, err := DecodeUint32(r)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid xdr bool value %d", v)
	}
}

// DecodeUint32Array reads a counted array of uint32 values.
func DecodeUint32Array(r io.Reader, limit uint32) ([]uint32, error) {
	n, err := DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read array count: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("array count %d exceeds maximum %d", n, limit)
	}
	vals := make([]uint32, n)
	for i := range vals {
		if vals[i], err = DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read array element %d: %w", i, err)
		}
	}
	return vals, nil
}

// SkipOpaque discards a variable-length opaque item without allocating it.
func SkipOpaque(r io.Reader) error {
	length, err := DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("read length: %w", err)
	}
	if length > MaxOpaqueLength {
		return fmt.Errorf("opaque length %d exceeds maximum %d", length, MaxOpaqueLength)
	}
	if _, err := io.CopyN(io.Discard, r, int64(length+Pad(length))); err != nil {
		return fmt.Errorf("skip opaque: %w", err)
	}
	return nil
}

func skipPadding(r io.Reader, n uint32) error {
	if p := Pad(n); p > 0 {
		var pad [3]byte
		if _, err := io.ReadFull(r, pad[:p]); err != nil {
			return fmt.Errorf("skip padding: %w", err)
		}
	}
	return nil
}
