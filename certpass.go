package authx

import (
	"fmt"
	"strings"
)

// CertificatePlusPasswordBindRequest authenticates with the client
// certificate presented during TLS negotiation combined with a static
// password, using the UNBOUNDID-CERTIFICATE-PLUS-PASSWORD SASL mechanism.
//
// The certificate never appears in the SASL credentials; the credentials
// carry only the password, and the server pairs it with the certificate from
// the underlying TLS session.
type CertificatePlusPasswordBindRequest struct {
	requestState
	password string
	controls []Control
}

// NewCertificatePlusPasswordBindRequest creates a certificate-plus-password
// bind request. password is required.
func NewCertificatePlusPasswordBindRequest(password string, controls ...Control) (*CertificatePlusPasswordBindRequest, error) {
	if password == "" {
		return nil, usageErrorf("a certificate-plus-password bind request requires a password")
	}
	return &CertificatePlusPasswordBindRequest{
		requestState: newRequestState(),
		password:     password,
		controls:     copyControls(controls),
	}, nil
}

// DecodeCertificatePlusPasswordBindRequestCredentials decodes a
// UNBOUNDID-CERTIFICATE-PLUS-PASSWORD credentials payload, which consists of
// the bare password octets.
func DecodeCertificatePlusPasswordBindRequestCredentials(credentials []byte) (*CertificatePlusPasswordBindRequest, error) {
	if len(credentials) == 0 {
		return nil, emptyCredentialsError(CertificatePlusPasswordMechanismName)
	}
	return &CertificatePlusPasswordBindRequest{
		requestState: newRequestState(),
		password:     string(credentials),
	}, nil
}

// Password returns the static password.
func (r *CertificatePlusPasswordBindRequest) Password() string {
	return r.password
}

// SASLMechanismName returns "UNBOUNDID-CERTIFICATE-PLUS-PASSWORD".
func (r *CertificatePlusPasswordBindRequest) SASLMechanismName() string {
	return CertificatePlusPasswordMechanismName
}

// Controls returns the request controls.
func (r *CertificatePlusPasswordBindRequest) Controls() []Control {
	return r.controls
}

// EncodeCredentials returns the credentials payload, which is the password
// itself.
func (r *CertificatePlusPasswordBindRequest) EncodeCredentials() ([]byte, error) {
	return []byte(r.password), nil
}

// Process sends the bind request over conn and returns the outcome.
func (r *CertificatePlusPasswordBindRequest) Process(conn BindConn) (*BindResult, error) {
	return processSASLBind(conn, r, &r.requestState)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *CertificatePlusPasswordBindRequest) Duplicate() BindRequest {
	return r.duplicate()
}

// RebindRequest returns a request that authenticates a connection to
// host:port in the same way. The new connection must present the same client
// certificate for the rebind to succeed.
func (r *CertificatePlusPasswordBindRequest) RebindRequest(host string, port int) BindRequest {
	return r.duplicate()
}

func (r *CertificatePlusPasswordBindRequest) duplicate() *CertificatePlusPasswordBindRequest {
	return &CertificatePlusPasswordBindRequest{
		requestState: newRequestState(),
		password:     r.password,
		controls:     copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *CertificatePlusPasswordBindRequest) AppendToCode(b *strings.Builder, indent int) {
	lines := []string{
		"request, err := authx.NewCertificatePlusPasswordBindRequest(",
		"\t" + quoteCode(redactedValue) + ", // password",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *CertificatePlusPasswordBindRequest) String() string {
	s := "CertificatePlusPasswordBindRequest("
	if len(r.controls) > 0 {
		s += fmt.Sprintf("controls=%d", len(r.controls))
	}
	return s + ")"
}
