package authx

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Control is an LDAP control attached to a request or response message
// (RFC 4511 section 4.1.11).
type Control interface {
	// GetControlType returns the OID of the control.
	GetControlType() string
	// Encode returns the BER packet for the control.
	Encode() *ber.Packet
	// String returns a human-readable description of the control.
	String() string
}

// ControlString is a generic control carrying an opaque value. Response
// controls with no registered decoder are represented as ControlString;
// their value can be decoded later, as GetAssuredReplicationResponseControl
// does.
type ControlString struct {
	ControlType  string
	Criticality  bool
	ControlValue string
}

// GetControlType returns the OID of the control.
func (c *ControlString) GetControlType() string {
	return c.ControlType
}

// Encode returns the BER packet for the control.
func (c *ControlString) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.ControlType, "Control Type"))
	if c.Criticality {
		packet.AppendChild(ber.NewLDAPBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, c.Criticality, "Criticality"))
	}
	if c.ControlValue != "" {
		packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.ControlValue, "Control Value"))
	}
	return packet
}

// String returns a human-readable description of the control.
func (c *ControlString) String() string {
	return fmt.Sprintf("Control Type: %s  Criticality: %t  Control Value: %s",
		c.ControlType, c.Criticality, c.ControlValue)
}

// EncodeControls packages controls into the controls component of an LDAP
// message envelope.
func EncodeControls(controls []Control) *ber.Packet {
	packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
	for _, control := range controls {
		packet.AppendChild(control.Encode())
	}
	return packet
}

// DecodeControl decodes a single control from the controls component of an
// LDAP message. Controls with a registered type decode to their concrete
// type; all others decode to *ControlString.
func DecodeControl(packet *ber.Packet) (Control, error) {
	var (
		controlType string
		criticality bool
		value       *ber.Packet
	)
	switch len(packet.Children) {
	case 0:
		return nil, decodeErrorf("control has no children")
	case 1:
		// control type only
	case 2:
		// control type and either criticality or value
	case 3:
		// control type, criticality and value
	default:
		return nil, decodeErrorf("control has too many children (%d)", len(packet.Children))
	}

	controlType, ok := stringValue(packet.Children[0])
	if !ok {
		return nil, decodeErrorf("control has a malformed type")
	}

	rest := packet.Children[1:]
	if len(rest) > 0 {
		// The second child is the criticality when it is a BOOLEAN,
		// otherwise it is the value.
		if b, isBool := rest[0].Value.(bool); isBool {
			criticality = b
			rest = rest[1:]
		}
	}
	if len(rest) > 1 {
		return nil, decodeErrorf("control %s has trailing children", controlType)
	}
	if len(rest) == 1 {
		value = rest[0]
	}

	var controlValue string
	if value != nil {
		s, ok := stringValue(value)
		if !ok {
			return nil, decodeErrorf("control %s has a malformed value", controlType)
		}
		controlValue = s
	}

	switch controlType {
	case ControlTypeAssuredReplicationResponse:
		return DecodeAssuredReplicationResponseControl(criticality, []byte(controlValue))
	default:
		return &ControlString{
			ControlType:  controlType,
			Criticality:  criticality,
			ControlValue: controlValue,
		}, nil
	}
}

// decodeControls decodes the controls component of a message envelope.
func decodeControls(packet *ber.Packet) ([]Control, error) {
	controls := make([]Control, 0, len(packet.Children))
	for _, child := range packet.Children {
		control, err := DecodeControl(child)
		if err != nil {
			return nil, err
		}
		controls = append(controls, control)
	}
	return controls, nil
}
