// Package types holds the NFSv4.0 and NFSv4.1 callback wire types
// (RFC 7530 Section 16, RFC 8881 Section 20): the CB_COMPOUND envelope,
// CB_SEQUENCE, the argument and result bodies of the callback operations
// this server sends, and the session-level types the back channel is
// negotiated with.
//
// All types encode with the XDR helpers of internal/protocol/xdr and
// implement fmt.Stringer for log output.
package types

import "fmt"

// ============================================================================
// Callback program (RFC 7530 Section 16.33, RFC 8881 Section 20)
// ============================================================================

const (
	// NFS4_CALLBACK is the conventional callback program number. v4.0
	// clients pick their own in SETCLIENTID; v4.1 clients in
	// CREATE_SESSION.
	NFS4_CALLBACK uint32 = 0x40000000

	// NFS_CB_VERSION is the callback program version. RFC 3530 named 4
	// in error; every implementation uses 1.
	NFS_CB_VERSION uint32 = 1

	CB_NULL     uint32 = 0
	CB_COMPOUND uint32 = 1
)

// Callback operation numbers (nfs_cb_opnum4).
const (
	OP_CB_GETATTR              uint32 = 3
	OP_CB_RECALL               uint32 = 4
	OP_CB_LAYOUTRECALL         uint32 = 5
	OP_CB_NOTIFY               uint32 = 6
	OP_CB_PUSH_DELEG           uint32 = 7
	OP_CB_RECALL_ANY           uint32 = 8
	OP_CB_RECALLABLE_OBJ_AVAIL uint32 = 9
	OP_CB_RECALL_SLOT          uint32 = 10
	OP_CB_SEQUENCE             uint32 = 11
	OP_CB_WANTS_CANCELLED      uint32 = 12
	OP_CB_NOTIFY_LOCK          uint32 = 13
	OP_CB_NOTIFY_DEVICEID      uint32 = 14
	OP_CB_ILLEGAL              uint32 = 10044
)

var cbOpNames = map[uint32]string{
	OP_CB_GETATTR:              "CB_GETATTR",
	OP_CB_RECALL:               "CB_RECALL",
	OP_CB_LAYOUTRECALL:         "CB_LAYOUTRECALL",
	OP_CB_NOTIFY:               "CB_NOTIFY",
	OP_CB_PUSH_DELEG:           "CB_PUSH_DELEG",
	OP_CB_RECALL_ANY:           "CB_RECALL_ANY",
	OP_CB_RECALLABLE_OBJ_AVAIL: "CB_RECALLABLE_OBJ_AVAIL",
	OP_CB_RECALL_SLOT:          "CB_RECALL_SLOT",
	OP_CB_SEQUENCE:             "CB_SEQUENCE",
	OP_CB_WANTS_CANCELLED:      "CB_WANTS_CANCELLED",
	OP_CB_NOTIFY_LOCK:          "CB_NOTIFY_LOCK",
	OP_CB_NOTIFY_DEVICEID:      "CB_NOTIFY_DEVICEID",
	OP_CB_ILLEGAL:              "CB_ILLEGAL",
}

// CbOpName returns the name of a callback operation.
func CbOpName(op uint32) string {
	if name, ok := cbOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("CB_OP_%d", op)
}

// ============================================================================
// Sizes
// ============================================================================

const (
	NFS4_SESSIONID_SIZE = 16
	NFS4_OTHER_SIZE     = 12
	NFS4_FHSIZE         = 128

	// maxArrayLen bounds counted arrays decoded from a client.
	maxArrayLen = 1024
)

// ============================================================================
// nfsstat4 values seen on the back channel
// ============================================================================

const (
	NFS4_OK                     uint32 = 0
	NFS4ERR_NOENT               uint32 = 2
	NFS4ERR_INVAL               uint32 = 22
	NFS4ERR_BADHANDLE           uint32 = 10001
	NFS4ERR_SERVERFAULT         uint32 = 10006
	NFS4ERR_DELAY               uint32 = 10008
	NFS4ERR_RESOURCE            uint32 = 10018
	NFS4ERR_MINOR_VERS_MISMATCH uint32 = 10021
	NFS4ERR_BAD_STATEID         uint32 = 10025
	NFS4ERR_BADXDR              uint32 = 10036
	NFS4ERR_OP_ILLEGAL          uint32 = 10044
	NFS4ERR_CB_PATH_DOWN        uint32 = 10048
	NFS4ERR_BADSESSION          uint32 = 10052
	NFS4ERR_BADSLOT             uint32 = 10053
	NFS4ERR_BACK_CHAN_BUSY      uint32 = 10057
	NFS4ERR_SEQ_MISORDERED      uint32 = 10063
	NFS4ERR_REQ_TOO_BIG         uint32 = 10065
	NFS4ERR_REP_TOO_BIG         uint32 = 10066
	NFS4ERR_RETRY_UNCACHED_REP  uint32 = 10068
	NFS4ERR_TOO_MANY_OPS        uint32 = 10070
	NFS4ERR_SEQ_FALSE_RETRY     uint32 = 10076
)

var statusNames = map[uint32]string{
	NFS4_OK:                     "NFS4_OK",
	NFS4ERR_NOENT:               "NFS4ERR_NOENT",
	NFS4ERR_INVAL:               "NFS4ERR_INVAL",
	NFS4ERR_BADHANDLE:           "NFS4ERR_BADHANDLE",
	NFS4ERR_SERVERFAULT:         "NFS4ERR_SERVERFAULT",
	NFS4ERR_DELAY:               "NFS4ERR_DELAY",
	NFS4ERR_RESOURCE:            "NFS4ERR_RESOURCE",
	NFS4ERR_MINOR_VERS_MISMATCH: "NFS4ERR_MINOR_VERS_MISMATCH",
	NFS4ERR_BAD_STATEID:         "NFS4ERR_BAD_STATEID",
	NFS4ERR_BADXDR:              "NFS4ERR_BADXDR",
	NFS4ERR_OP_ILLEGAL:          "NFS4ERR_OP_ILLEGAL",
	NFS4ERR_CB_PATH_DOWN:        "NFS4ERR_CB_PATH_DOWN",
	NFS4ERR_BADSESSION:          "NFS4ERR_BADSESSION",
	NFS4ERR_BADSLOT:             "NFS4ERR_BADSLOT",
	NFS4ERR_BACK_CHAN_BUSY:      "NFS4ERR_BACK_CHAN_BUSY",
	NFS4ERR_SEQ_MISORDERED:      "NFS4ERR_SEQ_MISORDERED",
	NFS4ERR_REQ_TOO_BIG:         "NFS4ERR_REQ_TOO_BIG",
	NFS4ERR_REP_TOO_BIG:         "NFS4ERR_REP_TOO_BIG",
	NFS4ERR_RETRY_UNCACHED_REP:  "NFS4ERR_RETRY_UNCACHED_REP",
	NFS4ERR_TOO_MANY_OPS:        "NFS4ERR_TOO_MANY_OPS",
	NFS4ERR_SEQ_FALSE_RETRY:     "NFS4ERR_SEQ_FALSE_RETRY",
}

// StatusName returns the symbolic name of an nfsstat4 value.
func StatusName(status uint32) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("NFS4ERR_%d", status)
}

// ============================================================================
// Security flavors offered in callback_sec_parms4
// ============================================================================

const (
	AUTH_NONE  uint32 = 0
	AUTH_SYS   uint32 = 1
	RPCSEC_GSS uint32 = 6
)

// CB_RECALL_ANY type mask bits (RFC 8881 Section 20.6).
const (
	RCA4_TYPE_MASK_RDATA_DLG   = 0
	RCA4_TYPE_MASK_WDATA_DLG   = 1
	RCA4_TYPE_MASK_DIR_DLG     = 2
	RCA4_TYPE_MASK_FILE_LAYOUT = 3
	RCA4_TYPE_MASK_BLK_LAYOUT  = 4
)
