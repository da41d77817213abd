package rpc

import (
	"errors"
	"fmt"
)

// ClntStat is the client-side outcome of an RPC call. Values follow the
// TI-RPC clnt_stat enumeration so they can be reported unchanged.
type ClntStat uint32

const (
	StatSuccess          ClntStat = 0
	StatCantEncodeArgs   ClntStat = 1
	StatCantDecodeRes    ClntStat = 2
	StatCantSend         ClntStat = 3
	StatCantRecv         ClntStat = 4
	StatTimedOut         ClntStat = 5
	StatVersMismatch     ClntStat = 6
	StatAuthError        ClntStat = 7
	StatProgUnavail      ClntStat = 8
	StatProgVersMismatch ClntStat = 9
	StatProcUnavail      ClntStat = 10
	StatCantDecodeArgs   ClntStat = 11
	StatSystemError      ClntStat = 12
	StatUnknownHost      ClntStat = 13
	StatFailed           ClntStat = 16
	StatUnknownProto     ClntStat = 17
	StatIntr             ClntStat = 18
	StatUnknownAddr      ClntStat = 19
	StatCantConnect      ClntStat = 26
	StatXprtFailed       ClntStat = 27
)

var clntStatNames = map[ClntStat]string{
	StatSuccess:          "RPC_SUCCESS",
	StatCantEncodeArgs:   "RPC_CANTENCODEARGS",
	StatCantDecodeRes:    "RPC_CANTDECODERES",
	StatCantSend:         "RPC_CANTSEND",
	StatCantRecv:         "RPC_CANTRECV",
	StatTimedOut:         "RPC_TIMEDOUT",
	StatVersMismatch:     "RPC_VERSMISMATCH",
	StatAuthError:        "RPC_AUTHERROR",
	StatProgUnavail:      "RPC_PROGUNAVAIL",
	StatProgVersMismatch: "RPC_PROGVERSMISMATCH",
	StatProcUnavail:      "RPC_PROCUNAVAIL",
	StatCantDecodeArgs:   "RPC_CANTDECODEARGS",
	StatSystemError:      "RPC_SYSTEMERROR",
	StatUnknownHost:      "RPC_UNKNOWNHOST",
	StatFailed:           "RPC_FAILED",
	StatUnknownProto:     "RPC_UNKNOWNPROTO",
	StatIntr:             "RPC_INTR",
	StatUnknownAddr:      "RPC_UNKNOWNADDR",
	StatCantConnect:      "RPC_CANTCONNECT",
	StatXprtFailed:       "RPC_XPRTFAILED",
}

func (s ClntStat) String() string {
	if name, ok := clntStatNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RPC_STAT_%d", uint32(s))
}

// AuthStat is the reason carried by an AUTH_ERROR rejection.
type AuthStat uint32

const (
	AuthOK               AuthStat = 0
	AuthBadCred          AuthStat = 1
	AuthRejectedCred     AuthStat = 2
	AuthBadVerf          AuthStat = 3
	AuthRejectedVerf     AuthStat = 4
	AuthTooWeak          AuthStat = 5
	AuthInvalidResp      AuthStat = 6
	AuthFailed           AuthStat = 7
	RPCSECGSSCredProblem AuthStat = 13
	RPCSECGSSCtxProblem  AuthStat = 14
)

func (a AuthStat) String() string {
	switch a {
	case AuthOK:
		return "AUTH_OK"
	case AuthBadCred:
		return "AUTH_BADCRED"
	case AuthRejectedCred:
		return "AUTH_REJECTEDCRED"
	case AuthBadVerf:
		return "AUTH_BADVERF"
	case AuthRejectedVerf:
		return "AUTH_REJECTEDVERF"
	case AuthTooWeak:
		return "AUTH_TOOWEAK"
	case AuthInvalidResp:
		return "AUTH_INVALIDRESP"
	case AuthFailed:
		return "AUTH_FAILED"
	case RPCSECGSSCredProblem:
		return "RPCSEC_GSS_CREDPROBLEM"
	case RPCSECGSSCtxProblem:
		return "RPCSEC_GSS_CTXPROBLEM"
	default:
		return fmt.Sprintf("AUTH_STAT_%d", uint32(a))
	}
}

// CallError describes a failed call. Err, when set, carries the transport
// or decode error that produced Stat.
type CallError struct {
	Stat ClntStat
	Auth AuthStat
	Err  error
}

func (e *CallError) Error() string {
	msg := e.Stat.String()
	if e.Stat == StatAuthError {
		msg += " (" + e.Auth.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// StatusOf maps an error returned by this package to its client status.
// A nil error is RPC_SUCCESS; foreign errors are RPC_FAILED.
func StatusOf(err error) ClntStat {
	if err == nil {
		return StatSuccess
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Stat
	}
	return StatFailed
}

// IsAuthError reports whether err is an AUTH_ERROR rejection, the only
// class of failure worth a credential refresh.
func IsAuthError(err error) bool {
	return StatusOf(err) == StatAuthError
}
