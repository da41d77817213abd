// Package kerberos provides the machine credential the NFS server uses
// when it acts as a Kerberos initiator towards a client's callback
// service.
//
// A Provider loads the machine principal's keytab and krb5.conf (with
// NFSCB_KERBEROS_* environment overrides), logs in to the KDC on first
// use, hands out service tickets for callback principals, and reloads the
// keytab when it is rotated on disk.
//
// The RPCSEC_GSS wire protocol lives in internal/adapter/nfs/rpc/gss.
//
// References:
//   - RFC 2203: RPCSEC_GSS Protocol Specification
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
package kerberos
