package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
)

// ============================================================================
// CB_RECALL (RFC 7530 Section 16.2)
// ============================================================================

// CbRecallArgs recalls a delegation.
//
//	struct CB_RECALL4args {
//	    stateid4 stateid;
//	    bool     truncate;
//	    nfs_fh4  fh;
//	};
type CbRecallArgs struct {
	Stateid  Stateid4
	Truncate bool
	FH       []byte
}

func (a *CbRecallArgs) OpNum() uint32 { return OP_CB_RECALL }

func (a *CbRecallArgs) Encode(buf *bytes.Buffer) error {
	if len(a.FH) > NFS4_FHSIZE {
		return fmt.Errorf("file handle length %d exceeds %d", len(a.FH), NFS4_FHSIZE)
	}
	if err := a.Stateid.Encode(buf); err != nil {
		return fmt.Errorf("encode cb_recall stateid: %w", err)
	}
	if err := xdr.WriteBool(buf, a.Truncate); err != nil {
		return fmt.Errorf("encode cb_recall truncate: %w", err)
	}
	return xdr.WriteXDROpaque(buf, a.FH)
}

func (a *CbRecallArgs) Decode(r io.Reader) error {
	if err := a.Stateid.Decode(r); err != nil {
		return err
	}
	var err error
	if a.Truncate, err = xdr.DecodeBool(r); err != nil {
		return fmt.Errorf("decode cb_recall truncate: %w", err)
	}
	if a.FH, err = xdr.DecodeOpaqueMax(r, NFS4_FHSIZE); err != nil {
		return fmt.Errorf("decode cb_recall fh: %w", err)
	}
	return nil
}

func (a *CbRecallArgs) String() string {
	return fmt.Sprintf("CB_RECALL{stateid=%s, truncate=%t, fh=%x}", a.Stateid.String(), a.Truncate, a.FH)
}

// ============================================================================
// CB_GETATTR (RFC 7530 Section 16.1)
// ============================================================================

// CbGetattrArgs asks a client holding a write delegation for attributes.
type CbGetattrArgs struct {
	FH          []byte
	AttrRequest Bitmap4
}

func (a *CbGetattrArgs) OpNum() uint32 { return OP_CB_GETATTR }

func (a *CbGetattrArgs) Encode(buf *bytes.Buffer) error {
	if len(a.FH) > NFS4_FHSIZE {
		return fmt.Errorf("file handle length %d exceeds %d", len(a.FH), NFS4_FHSIZE)
	}
	if err := xdr.WriteXDROpaque(buf, a.FH); err != nil {
		return err
	}
	return a.AttrRequest.Encode(buf)
}

func (a *CbGetattrArgs) String() string {
	return fmt.Sprintf("CB_GETATTR{fh=%x, attrs=%v}", a.FH, []uint32(a.AttrRequest))
}

// CbGetattrRes carries the fattr4 returned on NFS4_OK.
type CbGetattrRes struct {
	Status   uint32
	AttrMask Bitmap4
	AttrVals []byte
}

func (res *CbGetattrRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return err
	}
	if res.Status != NFS4_OK {
		return nil
	}
	if err := res.AttrMask.Encode(buf); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, res.AttrVals)
}

func (res *CbGetattrRes) Decode(r io.Reader) error {
	var err error
	if res.Status, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_getattr status: %w", err)
	}
	if res.Status != NFS4_OK {
		return nil
	}
	if err := res.AttrMask.Decode(r); err != nil {
		return err
	}
	if res.AttrVals, err = xdr.DecodeOpaque(r); err != nil {
		return fmt.Errorf("decode cb_getattr attr_vals: %w", err)
	}
	return nil
}

// ============================================================================
// CB_RECALL_ANY (RFC 8881 Section 20.6)
// ============================================================================

// CbRecallAnyArgs asks a client to return recallable objects down to
// ObjectsToKeep.
type CbRecallAnyArgs struct {
	ObjectsToKeep uint32
	TypeMask      Bitmap4
}

func (a *CbRecallAnyArgs) OpNum() uint32 { return OP_CB_RECALL_ANY }

func (a *CbRecallAnyArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, a.ObjectsToKeep); err != nil {
		return fmt.Errorf("encode cb_recall_any objects_to_keep: %w", err)
	}
	return a.TypeMask.Encode(buf)
}

func (a *CbRecallAnyArgs) String() string {
	return fmt.Sprintf("CB_RECALL_ANY{keep=%d, mask=%v}", a.ObjectsToKeep, []uint32(a.TypeMask))
}
