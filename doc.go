// Package authx implements client-side support for the authentication
// extensions of the Ping Identity / UnboundID directory server family:
// one-time-password SASL bind mechanisms (UNBOUNDID-TOTP,
// UNBOUNDID-YUBIKEY-OTP, UNBOUNDID-CERTIFICATE-PLUS-PASSWORD,
// UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION and OAUTHBEARER), the
// deliver-one-time-password and deliver-password-reset-token extended
// operations, and the assured replication response control.
//
// Bind requests and extended requests are immutable value objects. A
// constructor validates its required fields and returns a *UsageError before
// anything touches the network; the returned request can then be processed
// over any connection implementing BindConn or ExtendedConn, duplicated, or
// replayed against another server. Credential payloads are encoded as BER
// tagged sequences and decoded strictly: an unrecognized tag, a missing
// required field or an empty payload each fail with a *DecodeError.
//
// Non-success LDAP result codes are ordinary values carried in BindResult and
// ExtendedResult, not Go errors. Only transport failures and malformed
// protocol data surface as errors.
//
// The wire subpackage provides a minimal LDAP connection that satisfies
// BindConn and ExtendedConn; the directory subpackage provides an in-memory
// directory server for end-to-end tests.
package authx
