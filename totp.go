package authx

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Credential field tags for the UNBOUNDID-TOTP mechanism.
const (
	totpTagAuthenticationID ber.Tag = 0
	totpTagAuthorizationID  ber.Tag = 1
	totpTagPassword         ber.Tag = 2
	totpTagStaticPassword   ber.Tag = 3
)

// TOTPBindRequest authenticates with a time-based one-time password
// (RFC 6238), optionally combined with a static password, using the
// UNBOUNDID-TOTP SASL mechanism.
//
// Authentication and authorization identities use the form "dn:" followed by
// a distinguished name, or "u:" followed by a username.
type TOTPBindRequest struct {
	requestState
	authenticationID string
	authorizationID  string
	totpPassword     string
	staticPassword   []byte
	controls         []Control
}

// NewTOTPBindRequest creates a TOTP bind request. authenticationID and
// totpPassword are required; authorizationID may be empty. A nil
// staticPassword means no static password; a non-nil one must not be empty.
func NewTOTPBindRequest(authenticationID, authorizationID, totpPassword string, staticPassword []byte, controls ...Control) (*TOTPBindRequest, error) {
	if authenticationID == "" {
		return nil, usageErrorf("a TOTP bind request requires an authentication ID")
	}
	if totpPassword == "" {
		return nil, usageErrorf("a TOTP bind request requires a TOTP password")
	}
	if staticPassword != nil && len(staticPassword) == 0 {
		return nil, usageErrorf("a TOTP bind request static password must not be empty")
	}
	return &TOTPBindRequest{
		requestState:     newRequestState(),
		authenticationID: authenticationID,
		authorizationID:  authorizationID,
		totpPassword:     totpPassword,
		staticPassword:   copyBytes(staticPassword),
		controls:         copyControls(controls),
	}, nil
}

// DecodeTOTPBindRequestCredentials decodes a UNBOUNDID-TOTP credentials
// payload into an unprocessed bind request.
func DecodeTOTPBindRequestCredentials(credentials []byte) (*TOTPBindRequest, error) {
	const name = "UNBOUNDID-TOTP credentials"
	if len(credentials) == 0 {
		return nil, emptyCredentialsError(TOTPMechanismName)
	}
	children, err := decodeSequence(credentials, name)
	if err != nil {
		return nil, err
	}
	r := &TOTPBindRequest{requestState: newRequestState()}
	for _, child := range children {
		if child.ClassType != ber.ClassContext || child.TagType != ber.TypePrimitive {
			return nil, unknownFieldError(name, child)
		}
		switch child.Tag {
		case totpTagAuthenticationID:
			r.authenticationID = fieldString(child)
		case totpTagAuthorizationID:
			r.authorizationID = fieldString(child)
		case totpTagPassword:
			r.totpPassword = fieldString(child)
		case totpTagStaticPassword:
			r.staticPassword = fieldPresentBytes(child)
		default:
			return nil, unknownFieldError(name, child)
		}
	}
	if r.authenticationID == "" {
		return nil, missingFieldError(name, "authentication ID")
	}
	if r.totpPassword == "" {
		return nil, missingFieldError(name, "TOTP password")
	}
	return r, nil
}

// AuthenticationID returns the authentication identity.
func (r *TOTPBindRequest) AuthenticationID() string {
	return r.authenticationID
}

// AuthorizationID returns the authorization identity, or "" when the request
// does not request an alternate authorization identity.
func (r *TOTPBindRequest) AuthorizationID() string {
	return r.authorizationID
}

// TOTPPassword returns the time-based one-time password.
func (r *TOTPBindRequest) TOTPPassword() string {
	return r.totpPassword
}

// StaticPassword returns the static password decoded as UTF-8, or "" when
// none was provided.
func (r *TOTPBindRequest) StaticPassword() string {
	return string(r.staticPassword)
}

// StaticPasswordBytes returns the static password octets, or nil when none
// was provided.
func (r *TOTPBindRequest) StaticPasswordBytes() []byte {
	return copyBytes(r.staticPassword)
}

// SASLMechanismName returns "UNBOUNDID-TOTP".
func (r *TOTPBindRequest) SASLMechanismName() string {
	return TOTPMechanismName
}

// Controls returns the request controls.
func (r *TOTPBindRequest) Controls() []Control {
	return r.controls
}

// EncodeCredentials returns the BER encoding of the credential fields.
func (r *TOTPBindRequest) EncodeCredentials() ([]byte, error) {
	credentials := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "UNBOUNDID-TOTP credentials")
	credentials.AppendChild(contextString(totpTagAuthenticationID, r.authenticationID, "authenticationID"))
	if r.authorizationID != "" {
		credentials.AppendChild(contextString(totpTagAuthorizationID, r.authorizationID, "authorizationID"))
	}
	credentials.AppendChild(contextString(totpTagPassword, r.totpPassword, "totpPassword"))
	if r.staticPassword != nil {
		credentials.AppendChild(contextBytes(totpTagStaticPassword, r.staticPassword, "staticPassword"))
	}
	return credentials.Bytes(), nil
}

// Process sends the bind request over conn and returns the outcome.
func (r *TOTPBindRequest) Process(conn BindConn) (*BindResult, error) {
	return processSASLBind(conn, r, &r.requestState)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *TOTPBindRequest) Duplicate() BindRequest {
	return r.duplicate()
}

// RebindRequest returns a request that authenticates a connection to
// host:port in the same way.
func (r *TOTPBindRequest) RebindRequest(host string, port int) BindRequest {
	return r.duplicate()
}

func (r *TOTPBindRequest) duplicate() *TOTPBindRequest {
	return &TOTPBindRequest{
		requestState:     newRequestState(),
		authenticationID: r.authenticationID,
		authorizationID:  r.authorizationID,
		totpPassword:     r.totpPassword,
		staticPassword:   copyBytes(r.staticPassword),
		controls:         copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *TOTPBindRequest) AppendToCode(b *strings.Builder, indent int) {
	staticPassword := "nil"
	if r.staticPassword != nil {
		staticPassword = "[]byte(" + quoteCode(redactedValue) + ")"
	}
	lines := []string{
		"request, err := authx.NewTOTPBindRequest(",
		"\t" + quoteCode(r.authenticationID) + ", // authentication ID",
		"\t" + quoteCode(r.authorizationID) + ", // authorization ID",
		"\t" + quoteCode(redactedValue) + ", // TOTP password",
		"\t" + staticPassword + ", // static password",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *TOTPBindRequest) String() string {
	s := "TOTPBindRequest(authenticationID=" + quoteCode(r.authenticationID)
	if r.authorizationID != "" {
		s += ", authorizationID=" + quoteCode(r.authorizationID)
	}
	s += fmt.Sprintf(", staticPasswordProvided=%t", r.staticPassword != nil)
	if len(r.controls) > 0 {
		s += fmt.Sprintf(", controls=%d", len(r.controls))
	}
	return s + ")"
}
