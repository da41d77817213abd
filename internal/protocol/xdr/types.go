// Package xdr provides the XDR (RFC 4506) primitives shared by the RPC
// client and the NFSv4 callback encoders.
//
// All multi-byte integers are big-endian, every item is aligned to four
// bytes, and variable-length items carry a uint32 length prefix followed by
// zero padding. The package has no dependency on the rest of the module.
//
// Reference: RFC 4506 - XDR: External Data Representation Standard
package xdr

import (
	"bytes"
	"fmt"
	"io"
)

// Encoder is implemented by wire types that write themselves to a buffer.
type Encoder interface {
	Encode(buf *bytes.Buffer) error
}

// Decoder is implemented by wire types that read themselves from a stream.
type Decoder interface {
	Decode(r io.Reader) error
}

// Marshal runs an Encoder against a fresh buffer and returns its bytes.
func Marshal(e Encoder) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into d and reports trailing garbage as an error.
func Unmarshal(data []byte, d Decoder) error {
	r := bytes.NewReader(data)
	if err := d.Decode(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return &TrailingDataError{Remaining: r.Len()}
	}
	return nil
}

// TrailingDataError reports bytes left over after a complete decode.
type TrailingDataError struct {
	Remaining int
}

func (e *TrailingDataError) Error() string {
	return fmt.Sprintf("xdr: %d bytes of trailing data after decode", e.Remaining)
}
