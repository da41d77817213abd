package xdr

import (
	"bytes"
	"io"
)

// EncodeUnionDiscriminant writes the uint32 discriminant of an XDR union
// (RFC 4506 Section 4.15).
func EncodeUnionDiscriminant(buf *bytes.Buffer, disc uint32) error {
	return WriteUint32(buf, disc)
}

// DecodeUnionDiscriminant reads the uint32 discriminant of an XDR union.
func DecodeUnionDiscriminant(r io.Reader) (uint32, error) {
	return DecodeUint32(r)
}
