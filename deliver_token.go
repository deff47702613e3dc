package authx

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// OIDs of the deliver password reset token extended operation.
const (
	DeliverPasswordResetTokenRequestOID = "1.3.6.1.4.1.30221.2.6.45"
	DeliverPasswordResetTokenResultOID  = "1.3.6.1.4.1.30221.2.6.46"
)

// Request value field tags for the deliver password reset token operation.
const (
	resetTokenTagUserDN              ber.Tag = 0
	resetTokenTagPreferredMechanisms ber.Tag = 1
)

// PreferredDeliveryMechanism names a delivery mechanism and optionally the
// recipient identifier to use with it.
type PreferredDeliveryMechanism struct {
	Name        string
	RecipientID string // "" lets the server choose the recipient
}

// DeliverPasswordResetTokenExtendedRequest asks the server to generate a
// single-use password reset token and deliver it to the user out of band.
// The token can then be used to set a new password via the password modify
// operation. Unlike the deliver one-time password operation, the target user
// is identified by DN and no authentication happens as part of the request,
// so servers restrict it to authorized clients.
type DeliverPasswordResetTokenExtendedRequest struct {
	requestState
	userDN              string
	preferredMechanisms []PreferredDeliveryMechanism
	controls            []Control
}

// NewDeliverPasswordResetTokenExtendedRequest creates a deliver password
// reset token request. userDN is required; preferredMechanisms may be empty.
func NewDeliverPasswordResetTokenExtendedRequest(userDN string, preferredMechanisms []PreferredDeliveryMechanism, controls ...Control) (*DeliverPasswordResetTokenExtendedRequest, error) {
	if userDN == "" {
		return nil, usageErrorf("a deliver password reset token request requires a user DN")
	}
	for _, mechanism := range preferredMechanisms {
		if mechanism.Name == "" {
			return nil, usageErrorf("preferred delivery mechanism names must be non-empty")
		}
	}
	return &DeliverPasswordResetTokenExtendedRequest{
		requestState:        newRequestState(),
		userDN:              userDN,
		preferredMechanisms: copyPreferredMechanisms(preferredMechanisms),
		controls:            copyControls(controls),
	}, nil
}

// DecodeDeliverPasswordResetTokenExtendedRequestValue decodes the request
// value of a deliver password reset token request.
func DecodeDeliverPasswordResetTokenExtendedRequestValue(value []byte) (*DeliverPasswordResetTokenExtendedRequest, error) {
	const name = "deliver password reset token request value"
	if len(value) == 0 {
		return nil, decodeErrorf("the deliver password reset token request does not include a value")
	}
	children, err := decodeSequence(value, name)
	if err != nil {
		return nil, err
	}
	r := &DeliverPasswordResetTokenExtendedRequest{requestState: newRequestState()}
	for _, child := range children {
		if child.ClassType != ber.ClassContext {
			return nil, unknownFieldError(name, child)
		}
		if child.TagType == ber.TypeConstructed {
			if child.Tag != resetTokenTagPreferredMechanisms {
				return nil, unknownFieldError(name, child)
			}
			mechanisms, err := decodePreferredMechanisms(child, name)
			if err != nil {
				return nil, err
			}
			r.preferredMechanisms = mechanisms
			continue
		}
		switch child.Tag {
		case resetTokenTagUserDN:
			r.userDN = fieldString(child)
		case resetTokenTagPreferredMechanisms:
			return nil, decodeErrorf("%s has a malformed preferred mechanisms element", name)
		default:
			return nil, unknownFieldError(name, child)
		}
	}
	if r.userDN == "" {
		return nil, missingFieldError(name, "user DN")
	}
	return r, nil
}

func decodePreferredMechanisms(packet *ber.Packet, name string) ([]PreferredDeliveryMechanism, error) {
	mechanisms := make([]PreferredDeliveryMechanism, 0, len(packet.Children))
	for _, pair := range packet.Children {
		if pair.ClassType != ber.ClassUniversal || pair.TagType != ber.TypeConstructed || pair.Tag != ber.TagSequence ||
			len(pair.Children) < 1 || len(pair.Children) > 2 {
			return nil, decodeErrorf("%s has a malformed preferred mechanism", name)
		}
		mechanismName, ok := stringValue(pair.Children[0])
		if !ok || mechanismName == "" {
			return nil, decodeErrorf("%s has a preferred mechanism without a name", name)
		}
		mechanism := PreferredDeliveryMechanism{Name: mechanismName}
		if len(pair.Children) == 2 {
			recipientID, ok := stringValue(pair.Children[1])
			if !ok {
				return nil, decodeErrorf("%s has a preferred mechanism with a malformed recipient ID", name)
			}
			mechanism.RecipientID = recipientID
		}
		mechanisms = append(mechanisms, mechanism)
	}
	return mechanisms, nil
}

// UserDN returns the DN of the user the token is for.
func (r *DeliverPasswordResetTokenExtendedRequest) UserDN() string {
	return r.userDN
}

// PreferredMechanisms returns the preferred delivery mechanisms in order of
// preference.
func (r *DeliverPasswordResetTokenExtendedRequest) PreferredMechanisms() []PreferredDeliveryMechanism {
	return copyPreferredMechanisms(r.preferredMechanisms)
}

// OID returns the request OID.
func (r *DeliverPasswordResetTokenExtendedRequest) OID() string {
	return DeliverPasswordResetTokenRequestOID
}

// Controls returns the request controls.
func (r *DeliverPasswordResetTokenExtendedRequest) Controls() []Control {
	return r.controls
}

// EncodeValue returns the BER encoding of the request value.
func (r *DeliverPasswordResetTokenExtendedRequest) EncodeValue() []byte {
	value := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "deliver password reset token request value")
	value.AppendChild(contextString(resetTokenTagUserDN, r.userDN, "userDN"))
	if len(r.preferredMechanisms) > 0 {
		mechanisms := contextSequence(resetTokenTagPreferredMechanisms, "preferredMechanisms")
		for _, mechanism := range r.preferredMechanisms {
			pair := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "mechanism")
			pair.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, mechanism.Name, "name"))
			if mechanism.RecipientID != "" {
				pair.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, mechanism.RecipientID, "recipientID"))
			}
			mechanisms.AppendChild(pair)
		}
		value.AppendChild(mechanisms)
	}
	return value.Bytes()
}

// Process sends the request over conn and returns the outcome. A non-success
// result code is reported through the result, not as an error.
func (r *DeliverPasswordResetTokenExtendedRequest) Process(conn ExtendedConn) (*DeliverPasswordResetTokenExtendedResult, error) {
	result, messageID, err := conn.Extended(DeliverPasswordResetTokenRequestOID, r.EncodeValue(), r.controls)
	if messageID > 0 {
		r.lastMessageID = messageID
	}
	if err != nil {
		return nil, err
	}
	return DecodeDeliverPasswordResetTokenExtendedResult(result)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *DeliverPasswordResetTokenExtendedRequest) Duplicate() *DeliverPasswordResetTokenExtendedRequest {
	return &DeliverPasswordResetTokenExtendedRequest{
		requestState:        newRequestState(),
		userDN:              r.userDN,
		preferredMechanisms: copyPreferredMechanisms(r.preferredMechanisms),
		controls:            copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *DeliverPasswordResetTokenExtendedRequest) AppendToCode(b *strings.Builder, indent int) {
	mechanisms := "nil"
	if len(r.preferredMechanisms) > 0 {
		parts := make([]string, len(r.preferredMechanisms))
		for i, mechanism := range r.preferredMechanisms {
			parts[i] = "{Name: " + quoteCode(mechanism.Name) + "}"
		}
		mechanisms = "[]authx.PreferredDeliveryMechanism{" + strings.Join(parts, ", ") + "}"
	}
	lines := []string{
		"request, err := authx.NewDeliverPasswordResetTokenExtendedRequest(",
		"\t" + quoteCode(r.userDN) + ", // user DN",
		"\t" + mechanisms + ", // preferred mechanisms",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *DeliverPasswordResetTokenExtendedRequest) String() string {
	return fmt.Sprintf("DeliverPasswordResetTokenExtendedRequest(userDN=%s, preferredMechanisms=%d, controls=%d)",
		quoteCode(r.userDN), len(r.preferredMechanisms), len(r.controls))
}

// DeliverPasswordResetTokenExtendedResult is the outcome of a deliver
// password reset token request. The delivery fields are populated for a
// success result.
type DeliverPasswordResetTokenExtendedResult struct {
	ExtendedResult
	deliveryMechanism string
	recipientID       string
	message           string
}

// DecodeDeliverPasswordResetTokenExtendedResult interprets a generic
// extended result as a deliver password reset token result. A success result
// must carry a value naming the delivery mechanism; a non-success result
// carries none.
func DecodeDeliverPasswordResetTokenExtendedResult(result *ExtendedResult) (*DeliverPasswordResetTokenExtendedResult, error) {
	r := &DeliverPasswordResetTokenExtendedResult{ExtendedResult: *result}
	if !result.Success() {
		return r, nil
	}
	mechanism, recipientID, message, err := decodeDeliveryResultValue(result.Value, "deliver password reset token result")
	if err != nil {
		return nil, err
	}
	r.deliveryMechanism = mechanism
	r.recipientID = recipientID
	r.message = message
	return r, nil
}

// NewDeliverPasswordResetTokenExtendedResult builds the success result a
// server returns after delivering a password reset token.
func NewDeliverPasswordResetTokenExtendedResult(deliveryMechanism, recipientID, message string, controls ...Control) (*DeliverPasswordResetTokenExtendedResult, error) {
	if deliveryMechanism == "" {
		return nil, usageErrorf("a deliver password reset token result requires a delivery mechanism name")
	}
	r := &DeliverPasswordResetTokenExtendedResult{
		deliveryMechanism: deliveryMechanism,
		recipientID:       recipientID,
		message:           message,
	}
	r.Code = ResultSuccess
	r.Controls = copyControls(controls)
	r.OID = DeliverPasswordResetTokenResultOID
	r.Value = encodeDeliveryResultValue(deliveryMechanism, recipientID, message, "deliver password reset token result value")
	return r, nil
}

// DeliveryMechanism returns the name of the mechanism that delivered the
// token, or "" for a non-success result.
func (r *DeliverPasswordResetTokenExtendedResult) DeliveryMechanism() string {
	return r.deliveryMechanism
}

// RecipientID returns an identifier for the recipient, such as a masked
// phone number, or "" when the server provided none.
func (r *DeliverPasswordResetTokenExtendedResult) RecipientID() string {
	return r.recipientID
}

// Message returns a human-readable message about the delivery, or "" when
// the server provided none.
func (r *DeliverPasswordResetTokenExtendedResult) Message() string {
	return r.message
}

func copyPreferredMechanisms(mechanisms []PreferredDeliveryMechanism) []PreferredDeliveryMechanism {
	if len(mechanisms) == 0 {
		return nil
	}
	return append([]PreferredDeliveryMechanism(nil), mechanisms...)
}
