package authx

import (
	"fmt"
	"strconv"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Credential field tags for the UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION
// mechanism.
const (
	extAuthTagMechanismName      ber.Tag = 0
	extAuthTagAuthenticationID   ber.Tag = 1
	extAuthTagSuccessful         ber.Tag = 2
	extAuthTagFailureReason      ber.Tag = 3
	extAuthTagPasswordBased      ber.Tag = 4
	extAuthTagSecure             ber.Tag = 5
	extAuthTagEndClientIPAddress ber.Tag = 6
	extAuthTagLogProperties      ber.Tag = 7
)

// LogProperty is a name/value pair recorded in the server access log for an
// externally processed authentication attempt.
type LogProperty struct {
	Name  string
	Value string
}

// ExternallyProcessedAuthenticationProperties carries the optional fields of
// an externally processed authentication bind request.
type ExternallyProcessedAuthenticationProperties struct {
	// FailureReason describes why the external authentication attempt
	// failed. Only meaningful when the attempt was unsuccessful.
	FailureReason string

	// PasswordBased indicates whether the external mechanism was password
	// based. Nil means unspecified.
	PasswordBased *bool

	// Secure indicates whether the external authentication took place over
	// a secure channel. Nil means unspecified.
	Secure *bool

	// EndClientIPAddress is the address of the end client as observed by
	// the system that performed the external authentication.
	EndClientIPAddress string

	// AdditionalAccessLogProperties are recorded in the server access log
	// in the given order.
	AdditionalAccessLogProperties []LogProperty
}

// ExternallyProcessedAuthenticationBindRequest reports the outcome of an
// authentication attempt that was processed outside the directory server,
// using the UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION SASL mechanism.
// The server records the attempt and, for a successful one, authenticates
// the connection as the given identity.
type ExternallyProcessedAuthenticationBindRequest struct {
	requestState
	externalMechanismName string
	authenticationID      string
	successful            bool
	failureReason         string
	passwordBased         *bool
	secure                *bool
	endClientIPAddress    string
	logProperties         []LogProperty
	controls              []Control
}

// NewExternallyProcessedAuthenticationBindRequest creates an externally
// processed authentication bind request. externalMechanismName and
// authenticationID are required; properties may be nil.
func NewExternallyProcessedAuthenticationBindRequest(externalMechanismName, authenticationID string, successful bool, properties *ExternallyProcessedAuthenticationProperties, controls ...Control) (*ExternallyProcessedAuthenticationBindRequest, error) {
	if externalMechanismName == "" {
		return nil, usageErrorf("an externally processed authentication bind request requires an external mechanism name")
	}
	if authenticationID == "" {
		return nil, usageErrorf("an externally processed authentication bind request requires an authentication ID")
	}
	r := &ExternallyProcessedAuthenticationBindRequest{
		requestState:          newRequestState(),
		externalMechanismName: externalMechanismName,
		authenticationID:      authenticationID,
		successful:            successful,
		controls:              copyControls(controls),
	}
	if properties != nil {
		for _, p := range properties.AdditionalAccessLogProperties {
			if p.Name == "" {
				return nil, usageErrorf("access log properties require a non-empty name")
			}
		}
		r.failureReason = properties.FailureReason
		r.passwordBased = copyOptionalBool(properties.PasswordBased)
		r.secure = copyOptionalBool(properties.Secure)
		r.endClientIPAddress = properties.EndClientIPAddress
		r.logProperties = copyLogProperties(properties.AdditionalAccessLogProperties)
	}
	return r, nil
}

// DecodeExternallyProcessedAuthenticationBindRequestCredentials decodes a
// UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION credentials payload into an
// unprocessed bind request.
func DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials []byte) (*ExternallyProcessedAuthenticationBindRequest, error) {
	const name = "UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION credentials"
	if len(credentials) == 0 {
		return nil, emptyCredentialsError(ExternallyProcessedAuthenticationMechanismName)
	}
	children, err := decodeSequence(credentials, name)
	if err != nil {
		return nil, err
	}
	r := &ExternallyProcessedAuthenticationBindRequest{requestState: newRequestState()}
	successfulSeen := false
	for _, child := range children {
		if child.ClassType != ber.ClassContext {
			return nil, unknownFieldError(name, child)
		}
		if child.TagType == ber.TypeConstructed {
			if child.Tag != extAuthTagLogProperties {
				return nil, unknownFieldError(name, child)
			}
			properties, err := decodeLogProperties(child, name)
			if err != nil {
				return nil, err
			}
			r.logProperties = properties
			continue
		}
		switch child.Tag {
		case extAuthTagMechanismName:
			r.externalMechanismName = fieldString(child)
		case extAuthTagAuthenticationID:
			r.authenticationID = fieldString(child)
		case extAuthTagSuccessful:
			successful, err := fieldBoolean(child, "successful")
			if err != nil {
				return nil, err
			}
			r.successful = successful
			successfulSeen = true
		case extAuthTagFailureReason:
			r.failureReason = fieldString(child)
		case extAuthTagPasswordBased:
			passwordBased, err := fieldBoolean(child, "passwordBased")
			if err != nil {
				return nil, err
			}
			r.passwordBased = &passwordBased
		case extAuthTagSecure:
			secure, err := fieldBoolean(child, "secure")
			if err != nil {
				return nil, err
			}
			r.secure = &secure
		case extAuthTagEndClientIPAddress:
			r.endClientIPAddress = fieldString(child)
		case extAuthTagLogProperties:
			return nil, decodeErrorf("%s has a malformed additionalAccessLogProperties element", name)
		default:
			return nil, unknownFieldError(name, child)
		}
	}
	if r.externalMechanismName == "" {
		return nil, missingFieldError(name, "external mechanism name")
	}
	if r.authenticationID == "" {
		return nil, missingFieldError(name, "authentication ID")
	}
	if !successfulSeen {
		return nil, missingFieldError(name, "successful")
	}
	return r, nil
}

func decodeLogProperties(packet *ber.Packet, name string) ([]LogProperty, error) {
	properties := make([]LogProperty, 0, len(packet.Children))
	for _, pair := range packet.Children {
		if pair.ClassType != ber.ClassUniversal || pair.TagType != ber.TypeConstructed || pair.Tag != ber.TagSequence || len(pair.Children) != 2 {
			return nil, decodeErrorf("%s has a malformed access log property", name)
		}
		propertyName, ok := stringValue(pair.Children[0])
		if !ok || propertyName == "" {
			return nil, decodeErrorf("%s has an access log property without a name", name)
		}
		propertyValue, ok := stringValue(pair.Children[1])
		if !ok {
			return nil, decodeErrorf("%s has an access log property with a malformed value", name)
		}
		properties = append(properties, LogProperty{Name: propertyName, Value: propertyValue})
	}
	return properties, nil
}

// ExternalMechanismName returns the name of the mechanism used by the
// external authentication system.
func (r *ExternallyProcessedAuthenticationBindRequest) ExternalMechanismName() string {
	return r.externalMechanismName
}

// AuthenticationID returns the identity the external system authenticated.
func (r *ExternallyProcessedAuthenticationBindRequest) AuthenticationID() string {
	return r.authenticationID
}

// Successful reports whether the external authentication attempt succeeded.
func (r *ExternallyProcessedAuthenticationBindRequest) Successful() bool {
	return r.successful
}

// FailureReason returns the reason the external attempt failed, or "" when
// none was provided.
func (r *ExternallyProcessedAuthenticationBindRequest) FailureReason() string {
	return r.failureReason
}

// PasswordBased reports whether the external mechanism was password based.
// Nil means unspecified.
func (r *ExternallyProcessedAuthenticationBindRequest) PasswordBased() *bool {
	return copyOptionalBool(r.passwordBased)
}

// Secure reports whether the external authentication took place over a secure
// channel. Nil means unspecified.
func (r *ExternallyProcessedAuthenticationBindRequest) Secure() *bool {
	return copyOptionalBool(r.secure)
}

// EndClientIPAddress returns the end client address, or "" when none was
// provided.
func (r *ExternallyProcessedAuthenticationBindRequest) EndClientIPAddress() string {
	return r.endClientIPAddress
}

// AdditionalAccessLogProperties returns the access log properties in their
// original order.
func (r *ExternallyProcessedAuthenticationBindRequest) AdditionalAccessLogProperties() []LogProperty {
	return copyLogProperties(r.logProperties)
}

// SASLMechanismName returns "UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION".
func (r *ExternallyProcessedAuthenticationBindRequest) SASLMechanismName() string {
	return ExternallyProcessedAuthenticationMechanismName
}

// Controls returns the request controls.
func (r *ExternallyProcessedAuthenticationBindRequest) Controls() []Control {
	return r.controls
}

// EncodeCredentials returns the BER encoding of the credential fields.
func (r *ExternallyProcessedAuthenticationBindRequest) EncodeCredentials() ([]byte, error) {
	credentials := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "UNBOUNDID-EXTERNALLY-PROCESSED-AUTHENTICATION credentials")
	credentials.AppendChild(contextString(extAuthTagMechanismName, r.externalMechanismName, "externalMechanismName"))
	credentials.AppendChild(contextString(extAuthTagAuthenticationID, r.authenticationID, "authenticationID"))
	credentials.AppendChild(contextBoolean(extAuthTagSuccessful, r.successful, "successful"))
	if r.failureReason != "" {
		credentials.AppendChild(contextString(extAuthTagFailureReason, r.failureReason, "failureReason"))
	}
	if r.passwordBased != nil {
		credentials.AppendChild(contextBoolean(extAuthTagPasswordBased, *r.passwordBased, "passwordBased"))
	}
	if r.secure != nil {
		credentials.AppendChild(contextBoolean(extAuthTagSecure, *r.secure, "secure"))
	}
	if r.endClientIPAddress != "" {
		credentials.AppendChild(contextString(extAuthTagEndClientIPAddress, r.endClientIPAddress, "endClientIPAddress"))
	}
	if len(r.logProperties) > 0 {
		properties := contextSequence(extAuthTagLogProperties, "additionalAccessLogProperties")
		for _, p := range r.logProperties {
			pair := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "property")
			pair.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, p.Name, "name"))
			pair.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, p.Value, "value"))
			properties.AppendChild(pair)
		}
		credentials.AppendChild(properties)
	}
	return credentials.Bytes(), nil
}

// Process sends the bind request over conn and returns the outcome.
func (r *ExternallyProcessedAuthenticationBindRequest) Process(conn BindConn) (*BindResult, error) {
	return processSASLBind(conn, r, &r.requestState)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *ExternallyProcessedAuthenticationBindRequest) Duplicate() BindRequest {
	return r.duplicate()
}

// RebindRequest returns a request that reports the same externally processed
// authentication outcome on a connection to host:port.
func (r *ExternallyProcessedAuthenticationBindRequest) RebindRequest(host string, port int) BindRequest {
	return r.duplicate()
}

func (r *ExternallyProcessedAuthenticationBindRequest) duplicate() *ExternallyProcessedAuthenticationBindRequest {
	return &ExternallyProcessedAuthenticationBindRequest{
		requestState:          newRequestState(),
		externalMechanismName: r.externalMechanismName,
		authenticationID:      r.authenticationID,
		successful:            r.successful,
		failureReason:         r.failureReason,
		passwordBased:         copyOptionalBool(r.passwordBased),
		secure:                copyOptionalBool(r.secure),
		endClientIPAddress:    r.endClientIPAddress,
		logProperties:         copyLogProperties(r.logProperties),
		controls:              copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *ExternallyProcessedAuthenticationBindRequest) AppendToCode(b *strings.Builder, indent int) {
	properties := "nil"
	if r.hasProperties() {
		properties = "&authx.ExternallyProcessedAuthenticationProperties{ /* elided */ }"
	}
	lines := []string{
		"request, err := authx.NewExternallyProcessedAuthenticationBindRequest(",
		"\t" + quoteCode(r.externalMechanismName) + ", // external mechanism name",
		"\t" + quoteCode(r.authenticationID) + ", // authentication ID",
		"\t" + strconv.FormatBool(r.successful) + ", // successful",
		"\t" + properties + ", // optional properties",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *ExternallyProcessedAuthenticationBindRequest) hasProperties() bool {
	return r.failureReason != "" || r.passwordBased != nil || r.secure != nil ||
		r.endClientIPAddress != "" || len(r.logProperties) > 0
}

func (r *ExternallyProcessedAuthenticationBindRequest) String() string {
	s := fmt.Sprintf("ExternallyProcessedAuthenticationBindRequest(externalMechanismName=%s, authenticationID=%s, successful=%t",
		quoteCode(r.externalMechanismName), quoteCode(r.authenticationID), r.successful)
	if r.failureReason != "" {
		s += ", failureReason=" + quoteCode(r.failureReason)
	}
	if len(r.controls) > 0 {
		s += fmt.Sprintf(", controls=%d", len(r.controls))
	}
	return s + ")"
}

func copyOptionalBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func copyLogProperties(properties []LogProperty) []LogProperty {
	if len(properties) == 0 {
		return nil
	}
	return append([]LogProperty(nil), properties...)
}
