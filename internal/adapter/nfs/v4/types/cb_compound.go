package types

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
	goxdr "github.com/rasky/go-xdr/xdr2"
)

// maxTagLen bounds the utf8str_cs tag echoed back by a client.
const maxTagLen = 1024

// CbArgOp is one nfs_cb_argop4: an operation number followed by its
// arguments.
type CbArgOp interface {
	OpNum() uint32
	xdr.Encoder
}

// RawArgOp is an argop whose arguments were encoded by the caller.
type RawArgOp struct {
	Op   uint32
	Args []byte
}

func (o *RawArgOp) OpNum() uint32 { return o.Op }

func (o *RawArgOp) Encode(buf *bytes.Buffer) error {
	buf.Write(o.Args)
	return nil
}

// ============================================================================
// CB_COMPOUND4args
// ============================================================================

// CbCompoundArgs is CB_COMPOUND4args.
//
//	struct CB_COMPOUND4args {
//	    utf8str_cs     tag;
//	    uint32_t       minorversion;
//	    uint32_t       callback_ident;   /* ignored by v4.1 clients */
//	    nfs_cb_argop4  argarray<>;
//	};
type CbCompoundArgs struct {
	Tag           string
	MinorVersion  uint32
	CallbackIdent uint32
	Ops           []CbArgOp
}

func (a *CbCompoundArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteXDRString(buf, a.Tag); err != nil {
		return fmt.Errorf("encode cb_compound tag: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.MinorVersion); err != nil {
		return fmt.Errorf("encode cb_compound minorversion: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.CallbackIdent); err != nil {
		return fmt.Errorf("encode cb_compound callback_ident: %w", err)
	}
	if err := xdr.WriteUint32(buf, uint32(len(a.Ops))); err != nil {
		return fmt.Errorf("encode cb_compound argarray count: %w", err)
	}
	for i, op := range a.Ops {
		if err := xdr.WriteUint32(buf, op.OpNum()); err != nil {
			return fmt.Errorf("encode cb_compound op %d number: %w", i, err)
		}
		if err := op.Encode(buf); err != nil {
			return fmt.Errorf("encode %s (op %d): %w", CbOpName(op.OpNum()), i, err)
		}
	}
	return nil
}

// OpNames lists the operations of the compound, for logging.
func (a *CbCompoundArgs) OpNames() string {
	names := make([]string, len(a.Ops))
	for i, op := range a.Ops {
		names[i] = CbOpName(op.OpNum())
	}
	return strings.Join(names, ",")
}

// ============================================================================
// CB_COMPOUND4res
// ============================================================================

// CbResOp is one decoded nfs_cb_resop4. Sequence and Getattr are set for
// the operations that carry a result body.
type CbResOp struct {
	Op       uint32
	Status   uint32
	Sequence *CbSequenceRes
	Getattr  *CbGetattrRes
}

func (o *CbResOp) String() string {
	return fmt.Sprintf("%s=%s", CbOpName(o.Op), StatusName(o.Status))
}

// cbCompoundResHeader is the fixed head of CB_COMPOUND4res.
type cbCompoundResHeader struct {
	Status uint32
	Tag    string
}

// CbCompoundRes is CB_COMPOUND4res.
//
//	struct CB_COMPOUND4res {
//	    nfsstat4      status;
//	    utf8str_cs    tag;
//	    nfs_cb_resop4 resarray<>;
//	};
type CbCompoundRes struct {
	Status  uint32
	Tag     string
	Results []CbResOp
}

func (res *CbCompoundRes) Decode(r io.Reader) error {
	var hdr cbCompoundResHeader
	if _, err := goxdr.Unmarshal(r, &hdr); err != nil {
		return fmt.Errorf("decode cb_compound header: %w", err)
	}
	if len(hdr.Tag) > maxTagLen {
		return fmt.Errorf("cb_compound tag length %d exceeds %d", len(hdr.Tag), maxTagLen)
	}
	res.Status, res.Tag = hdr.Status, hdr.Tag

	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode resarray count: %w", err)
	}
	if count > maxArrayLen {
		return fmt.Errorf("resarray count %d exceeds limit", count)
	}

	res.Results = make([]CbResOp, 0, count)
	for i := uint32(0); i < count; i++ {
		op, err := decodeResOp(r)
		if err != nil {
			return fmt.Errorf("decode resop %d: %w", i, err)
		}
		res.Results = append(res.Results, op)
	}
	return nil
}

func decodeResOp(r io.Reader) (CbResOp, error) {
	opnum, err := xdr.DecodeUint32(r)
	if err != nil {
		return CbResOp{}, err
	}
	op := CbResOp{Op: opnum}

	switch opnum {
	case OP_CB_SEQUENCE:
		var seq CbSequenceRes
		if err := seq.Decode(r); err != nil {
			return op, err
		}
		op.Status, op.Sequence = seq.Status, &seq
	case OP_CB_GETATTR:
		var ga CbGetattrRes
		if err := ga.Decode(r); err != nil {
			return op, err
		}
		op.Status, op.Getattr = ga.Status, &ga
	case OP_CB_RECALL, OP_CB_LAYOUTRECALL, OP_CB_NOTIFY, OP_CB_PUSH_DELEG,
		OP_CB_RECALL_ANY, OP_CB_RECALLABLE_OBJ_AVAIL, OP_CB_RECALL_SLOT,
		OP_CB_WANTS_CANCELLED, OP_CB_NOTIFY_LOCK, OP_CB_NOTIFY_DEVICEID, OP_CB_ILLEGAL:
		if op.Status, err = xdr.DecodeUint32(r); err != nil {
			return op, fmt.Errorf("decode %s status: %w", CbOpName(opnum), err)
		}
	default:
		return op, fmt.Errorf("unknown callback operation %d in reply", opnum)
	}
	return op, nil
}

// DecodeCbCompoundRes decodes the results of a CB_COMPOUND reply.
func DecodeCbCompoundRes(data []byte) (*CbCompoundRes, error) {
	var res CbCompoundRes
	if err := res.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return &res, nil
}

// Encode writes the result, as a client would. Used by test fixtures and
// the loopback callback service of the CLI.
func (res *CbCompoundRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return err
	}
	if err := xdr.WriteXDRString(buf, res.Tag); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, uint32(len(res.Results))); err != nil {
		return err
	}
	for i := range res.Results {
		op := &res.Results[i]
		if err := xdr.WriteUint32(buf, op.Op); err != nil {
			return err
		}
		switch {
		case op.Sequence != nil:
			if err := op.Sequence.Encode(buf); err != nil {
				return err
			}
		case op.Getattr != nil:
			if err := op.Getattr.Encode(buf); err != nil {
				return err
			}
		default:
			if err := xdr.WriteUint32(buf, op.Status); err != nil {
				return err
			}
		}
	}
	return nil
}

func (res *CbCompoundRes) String() string {
	parts := make([]string, len(res.Results))
	for i := range res.Results {
		parts[i] = res.Results[i].String()
	}
	return fmt.Sprintf("CB_COMPOUND4res{%s, tag=%q, [%s]}", StatusName(res.Status), res.Tag, strings.Join(parts, " "))
}
