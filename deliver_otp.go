package authx

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// OIDs of the deliver one-time password extended operation.
const (
	DeliverOTPRequestOID = "1.3.6.1.4.1.30221.2.6.24"
	DeliverOTPResultOID  = "1.3.6.1.4.1.30221.2.6.25"
)

// Request value field tags for the deliver one-time password operation.
const (
	deliverOTPTagAuthenticationID    ber.Tag = 0
	deliverOTPTagStaticPassword      ber.Tag = 1
	deliverOTPTagPreferredMechanisms ber.Tag = 2
)

// Result value field tags shared by the credential delivery operations.
const (
	deliveryTagMechanism   ber.Tag = 0
	deliveryTagRecipientID ber.Tag = 1
	deliveryTagMessage     ber.Tag = 2
)

// DeliverOTPExtendedRequest asks the server to generate a single-use
// one-time password and deliver it to the user out of band, for a later
// UNBOUNDID-DELIVERED-OTP authentication. The user is identified by an
// authentication ID and verified with the static password.
//
// preferredMechanisms lists delivery mechanism names in order of preference.
// An empty list lets the server pick any mechanism the user supports.
type DeliverOTPExtendedRequest struct {
	requestState
	authenticationID    string
	staticPassword      string
	preferredMechanisms []string
	controls            []Control
}

// NewDeliverOTPExtendedRequest creates a deliver one-time password request.
// authenticationID and staticPassword are required; preferredMechanisms may
// be empty.
func NewDeliverOTPExtendedRequest(authenticationID, staticPassword string, preferredMechanisms []string, controls ...Control) (*DeliverOTPExtendedRequest, error) {
	if authenticationID == "" {
		return nil, usageErrorf("a deliver one-time password request requires an authentication ID")
	}
	if staticPassword == "" {
		return nil, usageErrorf("a deliver one-time password request requires a static password")
	}
	for _, name := range preferredMechanisms {
		if name == "" {
			return nil, usageErrorf("preferred delivery mechanism names must be non-empty")
		}
	}
	return &DeliverOTPExtendedRequest{
		requestState:        newRequestState(),
		authenticationID:    authenticationID,
		staticPassword:      staticPassword,
		preferredMechanisms: copyStrings(preferredMechanisms),
		controls:            copyControls(controls),
	}, nil
}

// DecodeDeliverOTPExtendedRequestValue decodes the request value of a
// deliver one-time password request.
func DecodeDeliverOTPExtendedRequestValue(value []byte) (*DeliverOTPExtendedRequest, error) {
	const name = "deliver one-time password request value"
	if len(value) == 0 {
		return nil, decodeErrorf("the deliver one-time password request does not include a value")
	}
	children, err := decodeSequence(value, name)
	if err != nil {
		return nil, err
	}
	r := &DeliverOTPExtendedRequest{requestState: newRequestState()}
	for _, child := range children {
		if child.ClassType != ber.ClassContext {
			return nil, unknownFieldError(name, child)
		}
		if child.TagType == ber.TypeConstructed {
			if child.Tag != deliverOTPTagPreferredMechanisms {
				return nil, unknownFieldError(name, child)
			}
			for _, mech := range child.Children {
				mechName, ok := stringValue(mech)
				if !ok || mechName == "" {
					return nil, decodeErrorf("%s has a malformed preferred mechanism name", name)
				}
				r.preferredMechanisms = append(r.preferredMechanisms, mechName)
			}
			continue
		}
		switch child.Tag {
		case deliverOTPTagAuthenticationID:
			r.authenticationID = fieldString(child)
		case deliverOTPTagStaticPassword:
			r.staticPassword = fieldString(child)
		case deliverOTPTagPreferredMechanisms:
			return nil, decodeErrorf("%s has a malformed preferred mechanisms element", name)
		default:
			return nil, unknownFieldError(name, child)
		}
	}
	if r.authenticationID == "" {
		return nil, missingFieldError(name, "authentication ID")
	}
	if r.staticPassword == "" {
		return nil, missingFieldError(name, "static password")
	}
	return r, nil
}

// AuthenticationID returns the authentication identity.
func (r *DeliverOTPExtendedRequest) AuthenticationID() string {
	return r.authenticationID
}

// StaticPassword returns the static password used to verify the user.
func (r *DeliverOTPExtendedRequest) StaticPassword() string {
	return r.staticPassword
}

// PreferredMechanisms returns the preferred delivery mechanism names in
// order of preference.
func (r *DeliverOTPExtendedRequest) PreferredMechanisms() []string {
	return copyStrings(r.preferredMechanisms)
}

// OID returns the request OID.
func (r *DeliverOTPExtendedRequest) OID() string {
	return DeliverOTPRequestOID
}

// Controls returns the request controls.
func (r *DeliverOTPExtendedRequest) Controls() []Control {
	return r.controls
}

// EncodeValue returns the BER encoding of the request value.
func (r *DeliverOTPExtendedRequest) EncodeValue() []byte {
	value := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "deliver OTP request value")
	value.AppendChild(contextString(deliverOTPTagAuthenticationID, r.authenticationID, "authenticationID"))
	value.AppendChild(contextString(deliverOTPTagStaticPassword, r.staticPassword, "staticPassword"))
	if len(r.preferredMechanisms) > 0 {
		mechanisms := contextSequence(deliverOTPTagPreferredMechanisms, "preferredMechanisms")
		for _, name := range r.preferredMechanisms {
			mechanisms.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, name, "mechanism"))
		}
		value.AppendChild(mechanisms)
	}
	return value.Bytes()
}

// Process sends the request over conn and returns the outcome. A non-success
// result code is reported through the result, not as an error.
func (r *DeliverOTPExtendedRequest) Process(conn ExtendedConn) (*DeliverOTPExtendedResult, error) {
	result, messageID, err := conn.Extended(DeliverOTPRequestOID, r.EncodeValue(), r.controls)
	if messageID > 0 {
		r.lastMessageID = messageID
	}
	if err != nil {
		return nil, err
	}
	return DecodeDeliverOTPExtendedResult(result)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *DeliverOTPExtendedRequest) Duplicate() *DeliverOTPExtendedRequest {
	return &DeliverOTPExtendedRequest{
		requestState:        newRequestState(),
		authenticationID:    r.authenticationID,
		staticPassword:      r.staticPassword,
		preferredMechanisms: copyStrings(r.preferredMechanisms),
		controls:            copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *DeliverOTPExtendedRequest) AppendToCode(b *strings.Builder, indent int) {
	mechanisms := "nil"
	if len(r.preferredMechanisms) > 0 {
		quoted := make([]string, len(r.preferredMechanisms))
		for i, name := range r.preferredMechanisms {
			quoted[i] = quoteCode(name)
		}
		mechanisms = "[]string{" + strings.Join(quoted, ", ") + "}"
	}
	lines := []string{
		"request, err := authx.NewDeliverOTPExtendedRequest(",
		"\t" + quoteCode(r.authenticationID) + ", // authentication ID",
		"\t" + quoteCode(redactedValue) + ", // static password",
		"\t" + mechanisms + ", // preferred mechanisms",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *DeliverOTPExtendedRequest) String() string {
	return fmt.Sprintf("DeliverOTPExtendedRequest(authenticationID=%s, preferredMechanisms=%v, controls=%d)",
		quoteCode(r.authenticationID), r.preferredMechanisms, len(r.controls))
}

// DeliverOTPExtendedResult is the outcome of a deliver one-time password
// request. The delivery fields are populated for a success result.
type DeliverOTPExtendedResult struct {
	ExtendedResult
	deliveryMechanism string
	recipientID       string
	message           string
}

// DecodeDeliverOTPExtendedResult interprets a generic extended result as a
// deliver one-time password result. A success result must carry a value
// naming the delivery mechanism; a non-success result carries none.
func DecodeDeliverOTPExtendedResult(result *ExtendedResult) (*DeliverOTPExtendedResult, error) {
	r := &DeliverOTPExtendedResult{ExtendedResult: *result}
	if !result.Success() {
		return r, nil
	}
	mechanism, recipientID, message, err := decodeDeliveryResultValue(result.Value, "deliver one-time password result")
	if err != nil {
		return nil, err
	}
	r.deliveryMechanism = mechanism
	r.recipientID = recipientID
	r.message = message
	return r, nil
}

// NewDeliverOTPExtendedResult builds the success result a server returns
// after delivering a one-time password.
func NewDeliverOTPExtendedResult(deliveryMechanism, recipientID, message string, controls ...Control) (*DeliverOTPExtendedResult, error) {
	if deliveryMechanism == "" {
		return nil, usageErrorf("a deliver one-time password result requires a delivery mechanism name")
	}
	r := &DeliverOTPExtendedResult{
		deliveryMechanism: deliveryMechanism,
		recipientID:       recipientID,
		message:           message,
	}
	r.Code = ResultSuccess
	r.Controls = copyControls(controls)
	r.OID = DeliverOTPResultOID
	r.Value = encodeDeliveryResultValue(deliveryMechanism, recipientID, message, "deliver OTP result value")
	return r, nil
}

// DeliveryMechanism returns the name of the mechanism that delivered the
// one-time password, or "" for a non-success result.
func (r *DeliverOTPExtendedResult) DeliveryMechanism() string {
	return r.deliveryMechanism
}

// RecipientID returns an identifier for the recipient, such as a masked
// phone number, or "" when the server provided none.
func (r *DeliverOTPExtendedResult) RecipientID() string {
	return r.recipientID
}

// Message returns a human-readable message about the delivery, or "" when
// the server provided none.
func (r *DeliverOTPExtendedResult) Message() string {
	return r.message
}

func encodeDeliveryResultValue(mechanism, recipientID, message, description string) []byte {
	value := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, description)
	value.AppendChild(contextString(deliveryTagMechanism, mechanism, "deliveryMechanism"))
	if recipientID != "" {
		value.AppendChild(contextString(deliveryTagRecipientID, recipientID, "recipientID"))
	}
	if message != "" {
		value.AppendChild(contextString(deliveryTagMessage, message, "message"))
	}
	return value.Bytes()
}

func decodeDeliveryResultValue(value []byte, name string) (mechanism, recipientID, message string, err error) {
	if len(value) == 0 {
		return "", "", "", decodeErrorf("the %s does not include a value", name)
	}
	children, err := decodeSequence(value, name+" value")
	if err != nil {
		return "", "", "", err
	}
	for _, child := range children {
		if child.ClassType != ber.ClassContext || child.TagType != ber.TypePrimitive {
			return "", "", "", unknownFieldError(name+" value", child)
		}
		switch child.Tag {
		case deliveryTagMechanism:
			mechanism = fieldString(child)
		case deliveryTagRecipientID:
			recipientID = fieldString(child)
		case deliveryTagMessage:
			message = fieldString(child)
		default:
			return "", "", "", unknownFieldError(name+" value", child)
		}
	}
	if mechanism == "" {
		return "", "", "", missingFieldError(name+" value", "delivery mechanism")
	}
	return mechanism, recipientID, message, nil
}

func copyStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}
