package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
)

// ============================================================================
// CB_SEQUENCE4args (RFC 8881 Section 20.9)
// ============================================================================

// CbSequenceArgs is CB_SEQUENCE4args, the mandatory first operation of a
// v4.1 CB_COMPOUND.
//
//	struct CB_SEQUENCE4args {
//	    sessionid4           csa_sessionid;
//	    sequenceid4          csa_sequenceid;
//	    slotid4              csa_slotid;
//	    slotid4              csa_highest_slotid;
//	    bool                 csa_cachethis;
//	    referring_call_list4 csa_referring_call_lists<>;
//	};
type CbSequenceArgs struct {
	SessionID          SessionId4
	SequenceID         uint32
	SlotID             uint32
	HighestSlotID      uint32
	CacheThis          bool
	ReferringCallLists []ReferringCallTriple
}

func (a *CbSequenceArgs) OpNum() uint32 { return OP_CB_SEQUENCE }

func (a *CbSequenceArgs) Encode(buf *bytes.Buffer) error {
	if err := a.SessionID.Encode(buf); err != nil {
		return fmt.Errorf("encode cb_sequence sessionid: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.SequenceID); err != nil {
		return fmt.Errorf("encode cb_sequence sequenceid: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.SlotID); err != nil {
		return fmt.Errorf("encode cb_sequence slotid: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.HighestSlotID); err != nil {
		return fmt.Errorf("encode cb_sequence highest_slotid: %w", err)
	}
	if err := xdr.WriteBool(buf, a.CacheThis); err != nil {
		return fmt.Errorf("encode cb_sequence cachethis: %w", err)
	}
	if err := xdr.WriteUint32(buf, uint32(len(a.ReferringCallLists))); err != nil {
		return fmt.Errorf("encode cb_sequence referring_call_lists count: %w", err)
	}
	for i := range a.ReferringCallLists {
		if err := a.ReferringCallLists[i].Encode(buf); err != nil {
			return fmt.Errorf("encode cb_sequence referring_call_list[%d]: %w", i, err)
		}
	}
	return nil
}

func (a *CbSequenceArgs) Decode(r io.Reader) error {
	if err := a.SessionID.Decode(r); err != nil {
		return err
	}
	var err error
	if a.SequenceID, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence sequenceid: %w", err)
	}
	if a.SlotID, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence slotid: %w", err)
	}
	if a.HighestSlotID, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence highest_slotid: %w", err)
	}
	if a.CacheThis, err = xdr.DecodeBool(r); err != nil {
		return fmt.Errorf("decode cb_sequence cachethis: %w", err)
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_sequence referring_call_lists count: %w", err)
	}
	if count > maxArrayLen {
		return fmt.Errorf("cb_sequence referring_call_lists count %d exceeds limit", count)
	}
	a.ReferringCallLists = make([]ReferringCallTriple, count)
	for i := range a.ReferringCallLists {
		if err := a.ReferringCallLists[i].Decode(r); err != nil {
			return fmt.Errorf("decode cb_sequence referring_call_list[%d]: %w", i, err)
		}
	}
	return nil
}

func (a *CbSequenceArgs) String() string {
	return fmt.Sprintf("CB_SEQUENCE{session=%s, seq=%d, slot=%d, highest=%d, cache=%t, refs=%d}",
		a.SessionID, a.SequenceID, a.SlotID, a.HighestSlotID, a.CacheThis, len(a.ReferringCallLists))
}

// ============================================================================
// CB_SEQUENCE4res
// ============================================================================

// CbSequenceRes is CB_SEQUENCE4res. The body is present only on NFS4_OK.
type CbSequenceRes struct {
	Status              uint32
	SessionID           SessionId4
	SequenceID          uint32
	SlotID              uint32
	HighestSlotID       uint32
	TargetHighestSlotID uint32
}

func (res *CbSequenceRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return err
	}
	if res.Status != NFS4_OK {
		return nil
	}
	if err := res.SessionID.Encode(buf); err != nil {
		return err
	}
	for _, v := range []uint32{res.SequenceID, res.SlotID, res.HighestSlotID} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return xdr.WriteUint32(buf, res.TargetHighestSlotID)
}

func (res *CbSequenceRes) Decode(r io.Reader) error {
	var err error
	if res.Status, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence status: %w", err)
	}
	if res.Status != NFS4_OK {
		return nil
	}
	if err := res.SessionID.Decode(r); err != nil {
		return err
	}
	for _, p := range []*uint32{&res.SequenceID, &res.SlotID, &res.HighestSlotID, &res.TargetHighestSlotID} {
		if *p, err = xdr.DecodeUint32(r); err != nil {
			return fmt.Errorf("decode cb_sequence result: %w", err)
		}
	}
	return nil
}

// Matches reports whether the result echoes the session, slot and
// sequence of args.
func (res *CbSequenceRes) Matches(args *CbSequenceArgs) error {
	if res.Status != NFS4_OK {
		return fmt.Errorf("CB_SEQUENCE failed: %s", StatusName(res.Status))
	}
	if res.SessionID != args.SessionID {
		return fmt.Errorf("CB_SEQUENCE session mismatch: sent %s, got %s", args.SessionID, res.SessionID)
	}
	if res.SlotID != args.SlotID || res.SequenceID != args.SequenceID {
		return fmt.Errorf("CB_SEQUENCE slot/seq mismatch: sent %d/%d, got %d/%d",
			args.SlotID, args.SequenceID, res.SlotID, res.SequenceID)
	}
	return nil
}

func (res *CbSequenceRes) String() string {
	if res.Status != NFS4_OK {
		return fmt.Sprintf("CB_SEQUENCE4res{%s}", StatusName(res.Status))
	}
	return fmt.Sprintf("CB_SEQUENCE4res{OK, session=%s, seq=%d, slot=%d, highest=%d, target=%d}",
		res.SessionID, res.SequenceID, res.SlotID, res.HighestSlotID, res.TargetHighestSlotID)
}
