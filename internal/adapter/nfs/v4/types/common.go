package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
)

// ============================================================================
// stateid4
// ============================================================================

// Stateid4 is an NFSv4 state identifier.
//
//	struct stateid4 {
//	    uint32_t seqid;
//	    opaque   other[NFS4_OTHER_SIZE];
//	};
type Stateid4 struct {
	Seqid uint32
	Other [NFS4_OTHER_SIZE]byte
}

func (s *Stateid4) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, s.Seqid); err != nil {
		return fmt.Errorf("encode stateid seqid: %w", err)
	}
	buf.Write(s.Other[:])
	return nil
}

func (s *Stateid4) Decode(r io.Reader) error {
	var err error
	if s.Seqid, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode stateid seqid: %w", err)
	}
	if _, err := io.ReadFull(r, s.Other[:]); err != nil {
		return fmt.Errorf("decode stateid other: %w", err)
	}
	return nil
}

func (s *Stateid4) String() string {
	return fmt.Sprintf("{seqid=%d, other=%x}", s.Seqid, s.Other)
}

// ============================================================================
// sessionid4
// ============================================================================

// SessionId4 is a fixed 16-byte session identifier, encoded without a
// length prefix.
type SessionId4 [NFS4_SESSIONID_SIZE]byte

func (s *SessionId4) Encode(buf *bytes.Buffer) error {
	buf.Write(s[:])
	return nil
}

func (s *SessionId4) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return fmt.Errorf("decode session_id: %w", err)
	}
	return nil
}

func (s SessionId4) String() string {
	return hex.EncodeToString(s[:])
}

// ============================================================================
// bitmap4
// ============================================================================

// Bitmap4 is a counted array of uint32 words.
type Bitmap4 []uint32

func (b Bitmap4) Encode(buf *bytes.Buffer) error {
	return xdr.WriteUint32Array(buf, b)
}

func (b *Bitmap4) Decode(r io.Reader) error {
	words, err := xdr.DecodeUint32Array(r, 256)
	if err != nil {
		return fmt.Errorf("decode bitmap: %w", err)
	}
	*b = words
	return nil
}

// Set sets bit n.
func (b *Bitmap4) Set(n uint32) {
	word := int(n / 32)
	for len(*b) <= word {
		*b = append(*b, 0)
	}
	(*b)[word] |= 1 << (n % 32)
}

// IsSet reports whether bit n is set.
func (b Bitmap4) IsSet(n uint32) bool {
	word := int(n / 32)
	return word < len(b) && b[word]&(1<<(n%32)) != 0
}

// ============================================================================
// channel_attrs4 (RFC 8881 Section 18.36)
// ============================================================================

// ChannelAttrs are the negotiated attributes of a fore or back channel.
// For the back channel, MaxRequests is the size of the slot table.
type ChannelAttrs struct {
	HeaderPadSize         uint32
	MaxRequestSize        uint32
	MaxResponseSize       uint32
	MaxResponseSizeCached uint32
	MaxOperations         uint32
	MaxRequests           uint32
	RdmaIrd               []uint32 // ca_rdma_ird<1>
}

func (c *ChannelAttrs) Encode(buf *bytes.Buffer) error {
	for _, v := range []uint32{c.HeaderPadSize, c.MaxRequestSize, c.MaxResponseSize,
		c.MaxResponseSizeCached, c.MaxOperations, c.MaxRequests} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return fmt.Errorf("encode channel_attrs: %w", err)
		}
	}
	if len(c.RdmaIrd) > 1 {
		return fmt.Errorf("rdma_ird count %d exceeds max 1", len(c.RdmaIrd))
	}
	return xdr.WriteUint32Array(buf, c.RdmaIrd)
}

func (c *ChannelAttrs) Decode(r io.Reader) error {
	for _, p := range []*uint32{&c.HeaderPadSize, &c.MaxRequestSize, &c.MaxResponseSize,
		&c.MaxResponseSizeCached, &c.MaxOperations, &c.MaxRequests} {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("decode channel_attrs: %w", err)
		}
		*p = v
	}
	ird, err := xdr.DecodeUint32Array(r, 1)
	if err != nil {
		return fmt.Errorf("decode rdma_ird: %w", err)
	}
	c.RdmaIrd = ird
	return nil
}

func (c *ChannelAttrs) String() string {
	return fmt.Sprintf("ChannelAttrs{req=%d, res=%d, cached=%d, ops=%d, reqs=%d}",
		c.MaxRequestSize, c.MaxResponseSize, c.MaxResponseSizeCached, c.MaxOperations, c.MaxRequests)
}

// ============================================================================
// referring_call4 / referring_call_list4 (RFC 8881 Section 20.9)
// ============================================================================

// ReferringCall4 names a fore-channel request that caused a callback.
type ReferringCall4 struct {
	SequenceID uint32
	SlotID     uint32
}

// ReferringCallTriple groups the referring calls of one session.
type ReferringCallTriple struct {
	SessionID      SessionId4
	ReferringCalls []ReferringCall4
}

func (t *ReferringCallTriple) Encode(buf *bytes.Buffer) error {
	if err := t.SessionID.Encode(buf); err != nil {
		return fmt.Errorf("encode referring call sessionid: %w", err)
	}
	if err := xdr.WriteUint32(buf, uint32(len(t.ReferringCalls))); err != nil {
		return fmt.Errorf("encode referring_calls count: %w", err)
	}
	for i, rc := range t.ReferringCalls {
		if err := xdr.WriteUint32(buf, rc.SequenceID); err != nil {
			return fmt.Errorf("encode referring_call[%d] sequenceid: %w", i, err)
		}
		if err := xdr.WriteUint32(buf, rc.SlotID); err != nil {
			return fmt.Errorf("encode referring_call[%d] slotid: %w", i, err)
		}
	}
	return nil
}

func (t *ReferringCallTriple) Decode(r io.Reader) error {
	if err := t.SessionID.Decode(r); err != nil {
		return err
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode referring_calls count: %w", err)
	}
	if count > maxArrayLen {
		return fmt.Errorf("referring_calls count %d exceeds limit", count)
	}
	t.ReferringCalls = make([]ReferringCall4, count)
	for i := range t.ReferringCalls {
		rc := &t.ReferringCalls[i]
		if rc.SequenceID, err = xdr.DecodeUint32(r); err != nil {
			return fmt.Errorf("decode referring_call[%d]: %w", i, err)
		}
		if rc.SlotID, err = xdr.DecodeUint32(r); err != nil {
			return fmt.Errorf("decode referring_call[%d]: %w", i, err)
		}
	}
	return nil
}

func (t *ReferringCallTriple) String() string {
	return fmt.Sprintf("{session=%s, calls=%d}", t.SessionID, len(t.ReferringCalls))
}
