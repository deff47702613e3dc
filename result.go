package authx

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	ldapv3 "github.com/go-ldap/ldap/v3"
)

// ResultCode is an LDAP result code as defined in RFC 4511 appendix A.
// Non-success codes returned by a server are ordinary values, not errors.
type ResultCode int32

const (
	ResultSuccess                      ResultCode = 0
	ResultOperationsError              ResultCode = 1
	ResultProtocolError                ResultCode = 2
	ResultTimeLimitExceeded            ResultCode = 3
	ResultSizeLimitExceeded            ResultCode = 4
	ResultAuthMethodNotSupported       ResultCode = 7
	ResultStrongAuthRequired           ResultCode = 8
	ResultReferral                     ResultCode = 10
	ResultAdminLimitExceeded           ResultCode = 11
	ResultUnavailableCriticalExtension ResultCode = 12
	ResultConfidentialityRequired      ResultCode = 13
	ResultSASLBindInProgress           ResultCode = 14
	ResultNoSuchAttribute              ResultCode = 16
	ResultNoSuchObject                 ResultCode = 32
	ResultInvalidDNSyntax              ResultCode = 34
	ResultInappropriateAuthentication  ResultCode = 48
	ResultInvalidCredentials           ResultCode = 49
	ResultInsufficientAccessRights     ResultCode = 50
	ResultBusy                         ResultCode = 51
	ResultUnavailable                  ResultCode = 52
	ResultUnwillingToPerform           ResultCode = 53
	ResultObjectClassViolation         ResultCode = 65
	ResultOther                        ResultCode = 80
	ResultAuthorizationDenied          ResultCode = 123
)

// String returns the standard name of the result code, such as "Success" or
// "Unwilling To Perform".
func (c ResultCode) String() string {
	if name, ok := ldapv3.LDAPResultCodeMap[uint16(c)]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Result Code (%d)", int32(c))
}

// Result holds the LDAPResult components common to all LDAP responses,
// together with any response controls attached to the enclosing message.
type Result struct {
	Code              ResultCode
	MatchedDN         string
	DiagnosticMessage string
	Referrals         []string
	Controls          []Control
}

// Success reports whether the result code is Success.
func (r *Result) Success() bool {
	return r.Code == ResultSuccess
}

func (r *Result) String() string {
	s := fmt.Sprintf("result %d (%s)", int32(r.Code), r.Code)
	if r.DiagnosticMessage != "" {
		s += ": " + r.DiagnosticMessage
	}
	return s
}

// BindResult is the outcome of a processed bind request.
type BindResult struct {
	Result

	// ServerSASLCredentials carries the serverSaslCreds component of the
	// bind response, when the server included one.
	ServerSASLCredentials []byte
}

// parseResultComponents reads the three mandatory LDAPResult components and
// the optional referral from op, returning any further children for the
// caller to interpret.
func parseResultComponents(op *ber.Packet, name string) (Result, []*ber.Packet, error) {
	var res Result
	if len(op.Children) < 3 {
		return res, nil, decodeErrorf("%s is missing required result components", name)
	}
	code, ok := intValue(op.Children[0])
	if !ok {
		return res, nil, decodeErrorf("%s has a malformed result code", name)
	}
	res.Code = ResultCode(code)
	matchedDN, ok := stringValue(op.Children[1])
	if !ok {
		return res, nil, decodeErrorf("%s has a malformed matched DN", name)
	}
	res.MatchedDN = matchedDN
	diagnostic, ok := stringValue(op.Children[2])
	if !ok {
		return res, nil, decodeErrorf("%s has a malformed diagnostic message", name)
	}
	res.DiagnosticMessage = diagnostic

	var extra []*ber.Packet
	for _, child := range op.Children[3:] {
		if child.ClassType == ber.ClassContext && child.TagType == ber.TypeConstructed && child.Tag == 3 {
			for _, ref := range child.Children {
				url, ok := stringValue(ref)
				if !ok {
					return res, nil, decodeErrorf("%s has a malformed referral", name)
				}
				res.Referrals = append(res.Referrals, url)
			}
			continue
		}
		extra = append(extra, child)
	}
	return res, extra, nil
}

// appendResultComponents writes the mandatory LDAPResult components and the
// optional referral to a response packet under construction.
func appendResultComponents(op *ber.Packet, res Result) {
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(res.Code), "resultCode"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, res.MatchedDN, "matchedDN"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, res.DiagnosticMessage, "diagnosticMessage"))
	if len(res.Referrals) > 0 {
		referral := contextSequence(3, "referral")
		for _, url := range res.Referrals {
			referral.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, url, "uri"))
		}
		op.AppendChild(referral)
	}
}
