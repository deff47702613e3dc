package authx

import (
	"strconv"
	"strings"
)

// SASL mechanism names implemented by this package. The UNBOUNDID-prefixed
// names are the mechanism names used on the wire by the Ping Identity /
// UnboundID directory server family.
const (
	TOTPMechanismName                              = "UNBOUNDID-TOTP"
	YubiKeyOTPMechanismName                        = "UNBOUNDID-YUBIKEY-OTP"
	CertificatePlusPasswordMechanismName           = "UNBOUNDID-CERTIFICATE-PLUS-PASSWORD"
	ExternallyProcessedAuthenticationMechanismName = "UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION"
	OAuthBearerMechanismName                       = "OAUTHBEARER"
)

// BindConn is the connection surface a bind request needs. wire.Conn
// implements it. The message ID is assigned before the send blocks and is
// returned even when the operation subsequently fails; a message ID of zero
// means no message was assigned.
type BindConn interface {
	SASLBind(mechanism string, credentials []byte, controls []Control) (*BindResult, int32, error)
}

// BindRequest is the interface shared by the SASL bind requests in this
// package. Requests are immutable apart from the recorded message ID and may
// be processed repeatedly, one attempt at a time.
type BindRequest interface {
	// SASLMechanismName returns the name of the SASL mechanism.
	SASLMechanismName() string

	// EncodeCredentials returns the SASL credentials payload for the
	// request.
	EncodeCredentials() ([]byte, error)

	// Controls returns the request controls.
	Controls() []Control

	// Process sends the bind request over conn and returns the outcome.
	// A non-success result code is reported through the result, not as an
	// error.
	Process(conn BindConn) (*BindResult, error)

	// Duplicate returns a copy of the request with no recorded message ID.
	Duplicate() BindRequest

	// RebindRequest returns a request that authenticates a connection to
	// host:port in the same way, with no recorded message ID.
	RebindRequest(host string, port int) BindRequest

	// LastMessageID returns the message ID of the most recent bind
	// attempt on the request, or -1 before the first attempt.
	LastMessageID() int32

	// AppendToCode appends a source-like reconstruction of the request to
	// b, indented by indent spaces. Secret fields are elided.
	AppendToCode(b *strings.Builder, indent int)
}

// requestState carries the message ID bookkeeping shared by bind and
// extended requests. A request supports a single Process call at a time; the
// recorded ID is meant to be read after Process returns, including after a
// failed send.
type requestState struct {
	lastMessageID int32
}

func newRequestState() requestState {
	return requestState{lastMessageID: -1}
}

func (s *requestState) LastMessageID() int32 {
	return s.lastMessageID
}

func processSASLBind(conn BindConn, r BindRequest, state *requestState) (*BindResult, error) {
	credentials, err := r.EncodeCredentials()
	if err != nil {
		return nil, err
	}
	result, messageID, err := conn.SASLBind(r.SASLMechanismName(), credentials, r.Controls())
	if messageID > 0 {
		state.lastMessageID = messageID
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

const redactedValue = "---redacted---"

func copyControls(controls []Control) []Control {
	if len(controls) == 0 {
		return nil
	}
	return append([]Control(nil), controls...)
}

// copyBytes copies b, keeping nil and a present empty slice apart.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func appendCodeLines(b *strings.Builder, indent int, lines ...string) {
	pad := strings.Repeat(" ", indent)
	for _, line := range lines {
		b.WriteString(pad)
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func quoteCode(s string) string {
	return strconv.Quote(s)
}

func controlsCodeLine(controls []Control) string {
	if len(controls) == 0 {
		return ""
	}
	return "\t// plus " + strconv.Itoa(len(controls)) + " request control(s)"
}
