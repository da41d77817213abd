package commands

import (
	"fmt"
	"strings"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/state"
)

// target is a client callback service named on the command line as
// "netid,uaddr", for example "tcp,10.0.0.5.8.1".
type target struct {
	NetID string
	UAddr string
}

func (t target) String() string { return t.NetID + "," + t.UAddr }

func parseTarget(s string) (target, error) {
	netid, uaddr, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok || netid == "" || uaddr == "" {
		return target{}, fmt.Errorf("invalid target %q (want netid,uaddr e.g. tcp,10.0.0.5.8.1)", s)
	}
	if _, err := state.ParseCallbackAddr(netid, uaddr); err != nil {
		return target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	return target{NetID: netid, UAddr: uaddr}, nil
}

// securityFlags are shared by commands that open a callback channel.
type securityFlags struct {
	flavor    string
	gssTarget string
	program   uint32
}

func (f *securityFlags) security() (state.CallbackSecurity, error) {
	sec := state.CallbackSecurity{GSSTarget: f.gssTarget}
	switch strings.ToLower(f.flavor) {
	case "none", "null":
		sec.Flavor = rpc.AuthNull
	case "", "sys", "unix":
		sec.Flavor = rpc.AuthSys
	case "gss", "krb5":
		sec.Flavor = rpc.AuthRPCSECGSS
	default:
		return sec, fmt.Errorf("unsupported flavor %q (valid: none, sys, gss)", f.flavor)
	}
	return sec, nil
}

// clientInfo builds the v4.0 client record a SETCLIENTID for t would leave.
func (f *securityFlags) clientInfo(id uint64, t target, ident uint32) (state.ClientInfo, error) {
	sec, err := f.security()
	if err != nil {
		return state.ClientInfo{}, err
	}
	return state.ClientInfo{
		ClientID:      id,
		MinorVersion:  0,
		NetID:         t.NetID,
		UAddr:         t.UAddr,
		Program:       f.program,
		CallbackIdent: ident,
		Security:      sec,
	}, nil
}
