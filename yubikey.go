package authx

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Credential field tags for the UNBOUNDID-YUBIKEY-OTP mechanism.
const (
	yubiKeyTagAuthenticationID ber.Tag = 0
	yubiKeyTagAuthorizationID  ber.Tag = 1
	yubiKeyTagStaticPassword   ber.Tag = 2
	yubiKeyTagOTP              ber.Tag = 3
)

// YubiKeyOTPBindRequest authenticates with a one-time password generated by
// a YubiKey device, optionally combined with a static password, using the
// UNBOUNDID-YUBIKEY-OTP SASL mechanism.
type YubiKeyOTPBindRequest struct {
	requestState
	authenticationID string
	authorizationID  string
	staticPassword   []byte
	yubiKeyOTP       string
	controls         []Control
}

// NewYubiKeyOTPBindRequest creates a YubiKey OTP bind request.
// authenticationID and yubiKeyOTP are required; authorizationID may be
// empty. A nil staticPassword means no static password; a non-nil one must
// not be empty.
func NewYubiKeyOTPBindRequest(authenticationID, authorizationID string, staticPassword []byte, yubiKeyOTP string, controls ...Control) (*YubiKeyOTPBindRequest, error) {
	if authenticationID == "" {
		return nil, usageErrorf("a YubiKey OTP bind request requires an authentication ID")
	}
	if yubiKeyOTP == "" {
		return nil, usageErrorf("a YubiKey OTP bind request requires a one-time password")
	}
	if staticPassword != nil && len(staticPassword) == 0 {
		return nil, usageErrorf("a YubiKey OTP bind request static password must not be empty")
	}
	return &YubiKeyOTPBindRequest{
		requestState:     newRequestState(),
		authenticationID: authenticationID,
		authorizationID:  authorizationID,
		staticPassword:   copyBytes(staticPassword),
		yubiKeyOTP:       yubiKeyOTP,
		controls:         copyControls(controls),
	}, nil
}

// DecodeYubiKeyOTPBindRequestCredentials decodes a UNBOUNDID-YUBIKEY-OTP
// credentials payload into an unprocessed bind request.
func DecodeYubiKeyOTPBindRequestCredentials(credentials []byte) (*YubiKeyOTPBindRequest, error) {
	const name = "UNBOUNDID-YUBIKEY-OTP credentials"
	if len(credentials) == 0 {
		return nil, emptyCredentialsError(YubiKeyOTPMechanismName)
	}
	children, err := decodeSequence(credentials, name)
	if err != nil {
		return nil, err
	}
	r := &YubiKeyOTPBindRequest{requestState: newRequestState()}
	for _, child := range children {
		if child.ClassType != ber.ClassContext || child.TagType != ber.TypePrimitive {
			return nil, unknownFieldError(name, child)
		}
		switch child.Tag {
		case yubiKeyTagAuthenticationID:
			r.authenticationID = fieldString(child)
		case yubiKeyTagAuthorizationID:
			r.authorizationID = fieldString(child)
		case yubiKeyTagStaticPassword:
			r.staticPassword = fieldPresentBytes(child)
		case yubiKeyTagOTP:
			r.yubiKeyOTP = fieldString(child)
		default:
			return nil, unknownFieldError(name, child)
		}
	}
	if r.authenticationID == "" {
		return nil, missingFieldError(name, "authentication ID")
	}
	if r.yubiKeyOTP == "" {
		return nil, missingFieldError(name, "one-time password")
	}
	return r, nil
}

// AuthenticationID returns the authentication identity.
func (r *YubiKeyOTPBindRequest) AuthenticationID() string {
	return r.authenticationID
}

// AuthorizationID returns the authorization identity, or "" when the request
// does not request an alternate authorization identity.
func (r *YubiKeyOTPBindRequest) AuthorizationID() string {
	return r.authorizationID
}

// StaticPassword returns the static password decoded as UTF-8, or "" when
// none was provided.
func (r *YubiKeyOTPBindRequest) StaticPassword() string {
	return string(r.staticPassword)
}

// StaticPasswordBytes returns the static password octets, or nil when none
// was provided.
func (r *YubiKeyOTPBindRequest) StaticPasswordBytes() []byte {
	return copyBytes(r.staticPassword)
}

// YubiKeyOTP returns the one-time password generated by the YubiKey device.
func (r *YubiKeyOTPBindRequest) YubiKeyOTP() string {
	return r.yubiKeyOTP
}

// SASLMechanismName returns "UNBOUNDID-YUBIKEY-OTP".
func (r *YubiKeyOTPBindRequest) SASLMechanismName() string {
	return YubiKeyOTPMechanismName
}

// Controls returns the request controls.
func (r *YubiKeyOTPBindRequest) Controls() []Control {
	return r.controls
}

// EncodeCredentials returns the BER encoding of the credential fields.
func (r *YubiKeyOTPBindRequest) EncodeCredentials() ([]byte, error) {
	credentials := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "UNBOUNDID-YUBIKEY-OTP credentials")
	credentials.AppendChild(contextString(yubiKeyTagAuthenticationID, r.authenticationID, "authenticationID"))
	if r.authorizationID != "" {
		credentials.AppendChild(contextString(yubiKeyTagAuthorizationID, r.authorizationID, "authorizationID"))
	}
	if r.staticPassword != nil {
		credentials.AppendChild(contextBytes(yubiKeyTagStaticPassword, r.staticPassword, "staticPassword"))
	}
	credentials.AppendChild(contextString(yubiKeyTagOTP, r.yubiKeyOTP, "yubiKeyOTP"))
	return credentials.Bytes(), nil
}

// Process sends the bind request over conn and returns the outcome.
func (r *YubiKeyOTPBindRequest) Process(conn BindConn) (*BindResult, error) {
	return processSASLBind(conn, r, &r.requestState)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *YubiKeyOTPBindRequest) Duplicate() BindRequest {
	return r.duplicate()
}

// RebindRequest returns a request that authenticates a connection to
// host:port in the same way.
func (r *YubiKeyOTPBindRequest) RebindRequest(host string, port int) BindRequest {
	return r.duplicate()
}

func (r *YubiKeyOTPBindRequest) duplicate() *YubiKeyOTPBindRequest {
	return &YubiKeyOTPBindRequest{
		requestState:     newRequestState(),
		authenticationID: r.authenticationID,
		authorizationID:  r.authorizationID,
		staticPassword:   copyBytes(r.staticPassword),
		yubiKeyOTP:       r.yubiKeyOTP,
		controls:         copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *YubiKeyOTPBindRequest) AppendToCode(b *strings.Builder, indent int) {
	staticPassword := "nil"
	if r.staticPassword != nil {
		staticPassword = "[]byte(" + quoteCode(redactedValue) + ")"
	}
	lines := []string{
		"request, err := authx.NewYubiKeyOTPBindRequest(",
		"\t" + quoteCode(r.authenticationID) + ", // authentication ID",
		"\t" + quoteCode(r.authorizationID) + ", // authorization ID",
		"\t" + staticPassword + ", // static password",
		"\t" + quoteCode(redactedValue) + ", // YubiKey OTP",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *YubiKeyOTPBindRequest) String() string {
	s := "YubiKeyOTPBindRequest(authenticationID=" + quoteCode(r.authenticationID)
	if r.authorizationID != "" {
		s += ", authorizationID=" + quoteCode(r.authorizationID)
	}
	s += fmt.Sprintf(", staticPasswordProvided=%t", r.staticPassword != nil)
	if len(r.controls) > 0 {
		s += fmt.Sprintf(", controls=%d", len(r.controls))
	}
	return s + ")"
}
