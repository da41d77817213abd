package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
	goxdr "github.com/rasky/go-xdr/xdr2"
)

// AuthSysParms is authsys_parms (RFC 5531 Section 8.2), carried inline in
// callback_sec_parms4.
type AuthSysParms struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// GssCbHandles4 carries the RPCSEC_GSS handles a client offers for the
// back channel (RFC 8881 Section 18.36).
type GssCbHandles4 struct {
	Service          uint32
	HandleFromServer []byte
	HandleFromClient []byte
}

// CallbackSecParms4 is one entry of the security parameter list a v4.1
// client offers in CREATE_SESSION or BACKCHANNEL_CTL.
//
//	union callback_sec_parms4 switch (uint32_t cb_secflavor) {
//	 case AUTH_NONE:  void;
//	 case AUTH_SYS:   authsys_parms cbsp_sys_cred;
//	 case RPCSEC_GSS: gss_cb_handles4 cbsp_gss_handles;
//	};
type CallbackSecParms4 struct {
	Flavor uint32
	Sys    *AuthSysParms
	Gss    *GssCbHandles4
}

func (c *CallbackSecParms4) Encode(buf *bytes.Buffer) error {
	if err := xdr.EncodeUnionDiscriminant(buf, c.Flavor); err != nil {
		return fmt.Errorf("encode cb_secflavor: %w", err)
	}
	switch c.Flavor {
	case AUTH_NONE:
		return nil
	case AUTH_SYS:
		p := c.Sys
		if p == nil {
			p = &AuthSysParms{}
		}
		if _, err := goxdr.Marshal(buf, p); err != nil {
			return fmt.Errorf("encode authsys_parms: %w", err)
		}
	case RPCSEC_GSS:
		h := c.Gss
		if h == nil {
			h = &GssCbHandles4{}
		}
		if _, err := goxdr.Marshal(buf, h); err != nil {
			return fmt.Errorf("encode gss_cb_handles4: %w", err)
		}
	default:
		return fmt.Errorf("unknown cb_secflavor %d", c.Flavor)
	}
	return nil
}

func (c *CallbackSecParms4) Decode(r io.Reader) error {
	flavor, err := xdr.DecodeUnionDiscriminant(r)
	if err != nil {
		return fmt.Errorf("decode cb_secflavor: %w", err)
	}
	c.Flavor = flavor
	c.Sys, c.Gss = nil, nil

	switch flavor {
	case AUTH_NONE:
	case AUTH_SYS:
		var p AuthSysParms
		if _, err := goxdr.Unmarshal(r, &p); err != nil {
			return fmt.Errorf("decode authsys_parms: %w", err)
		}
		c.Sys = &p
	case RPCSEC_GSS:
		var h GssCbHandles4
		if _, err := goxdr.Unmarshal(r, &h); err != nil {
			return fmt.Errorf("decode gss_cb_handles4: %w", err)
		}
		c.Gss = &h
	default:
		return fmt.Errorf("unknown cb_secflavor %d", flavor)
	}
	return nil
}

func (c *CallbackSecParms4) String() string {
	switch c.Flavor {
	case AUTH_NONE:
		return "AUTH_NONE"
	case AUTH_SYS:
		if c.Sys == nil {
			return "AUTH_SYS{}"
		}
		return fmt.Sprintf("AUTH_SYS{machine=%q, uid=%d, gid=%d}", c.Sys.MachineName, c.Sys.UID, c.Sys.GID)
	case RPCSEC_GSS:
		return "RPCSEC_GSS"
	default:
		return fmt.Sprintf("flavor_%d", c.Flavor)
	}
}

// EncodeSecParmsList encodes callback_sec_parms4<>.
func EncodeSecParmsList(buf *bytes.Buffer, list []CallbackSecParms4) error {
	if err := xdr.WriteUint32(buf, uint32(len(list))); err != nil {
		return err
	}
	for i := range list {
		if err := list[i].Encode(buf); err != nil {
			return fmt.Errorf("sec_parms[%d]: %w", i, err)
		}
	}
	return nil
}

// DecodeSecParmsList decodes callback_sec_parms4<>.
func DecodeSecParmsList(r io.Reader) ([]CallbackSecParms4, error) {
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decode sec_parms count: %w", err)
	}
	if count > maxArrayLen {
		return nil, fmt.Errorf("sec_parms count %d exceeds limit", count)
	}
	list := make([]CallbackSecParms4, count)
	for i := range list {
		if err := list[i].Decode(r); err != nil {
			return nil, fmt.Errorf("sec_parms[%d]: %w", i, err)
		}
	}
	return list, nil
}
