package authx

import (
	ber "github.com/go-asn1-ber/asn1-ber"
)

// Credential payloads, extended operation values and control values are BER
// sequences of context-tagged fields. The helpers below encode fields with
// their context tags and read them back strictly.

func contextString(tag ber.Tag, value, description string) *ber.Packet {
	return ber.NewString(ber.ClassContext, ber.TypePrimitive, tag, value, description)
}

func contextBytes(tag ber.Tag, value []byte, description string) *ber.Packet {
	p := ber.Encode(ber.ClassContext, ber.TypePrimitive, tag, nil, description)
	p.Value = value
	p.Data.Write(value)
	return p
}

func contextBoolean(tag ber.Tag, value bool, description string) *ber.Packet {
	return ber.NewLDAPBoolean(ber.ClassContext, ber.TypePrimitive, tag, value, description)
}

func contextEnumerated(tag ber.Tag, value int64, description string) *ber.Packet {
	return ber.NewInteger(ber.ClassContext, ber.TypePrimitive, tag, value, description)
}

func contextInteger(tag ber.Tag, value int64, description string) *ber.Packet {
	return ber.NewInteger(ber.ClassContext, ber.TypePrimitive, tag, value, description)
}

func contextSequence(tag ber.Tag, description string) *ber.Packet {
	return ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, description)
}

// decodeSequence parses data as a BER sequence and hands back its children.
// name identifies the payload in error messages.
func decodeSequence(data []byte, name string) ([]*ber.Packet, error) {
	packet, err := ber.DecodePacketErr(data)
	if err != nil {
		return nil, decodeErrorWrap(err, "%s is not a valid BER sequence", name)
	}
	if packet.ClassType != ber.ClassUniversal || packet.TagType != ber.TypeConstructed || packet.Tag != ber.TagSequence {
		return nil, decodeErrorf("%s is not a BER sequence", name)
	}
	return packet.Children, nil
}

// fieldBytes returns the raw content octets of a context-tagged field. The
// BER reader leaves Value nil for context-class primitives, so the content
// is read from the packet data.
func fieldBytes(p *ber.Packet) []byte {
	return p.Data.Bytes()
}

// fieldPresentBytes returns the content octets of an optional field found on
// the wire. The result is never nil, so a present-but-empty field stays
// distinguishable from an absent one.
func fieldPresentBytes(p *ber.Packet) []byte {
	return append([]byte{}, p.Data.Bytes()...)
}

func fieldString(p *ber.Packet) string {
	return string(p.Data.Bytes())
}

func fieldBoolean(p *ber.Packet, name string) (bool, error) {
	content := p.Data.Bytes()
	if len(content) != 1 {
		return false, decodeErrorf("%s is not a valid BER boolean", name)
	}
	return content[0] != 0x00, nil
}

func fieldInt64(p *ber.Packet, name string) (int64, error) {
	value, err := ber.ParseInt64(p.Data.Bytes())
	if err != nil {
		return 0, decodeErrorWrap(err, "%s is not a valid BER integer", name)
	}
	return value, nil
}

// stringValue reads a universal OCTET STRING, falling back to the raw
// content octets for packets the reader did not give a string value.
func stringValue(p *ber.Packet) (string, bool) {
	if s, ok := p.Value.(string); ok {
		return s, true
	}
	if p.Value == nil {
		return string(p.Data.Bytes()), true
	}
	return "", false
}

// intValue reads a universal INTEGER or ENUMERATED.
func intValue(p *ber.Packet) (int64, bool) {
	if n, ok := p.Value.(int64); ok {
		return n, true
	}
	if p.Value == nil {
		if n, err := ber.ParseInt64(p.Data.Bytes()); err == nil {
			return n, true
		}
	}
	return 0, false
}

func unknownFieldError(name string, p *ber.Packet) *DecodeError {
	if p.ClassType != ber.ClassContext {
		return decodeErrorf("%s contains an element with unexpected class %d", name, p.ClassType)
	}
	return decodeErrorf("%s contains an element with unrecognized type %#x", name, int(p.Tag)|contextTagBase(p))
}

func contextTagBase(p *ber.Packet) int {
	if p.TagType == ber.TypeConstructed {
		return 0xa0
	}
	return 0x80
}

func missingFieldError(name, field string) *DecodeError {
	return decodeErrorf("%s is missing the required %s element", name, field)
}

func emptyCredentialsError(mechanism string) *DecodeError {
	return &DecodeError{
		Message: "unable to decode " + mechanism + " credentials",
		Err:     ErrEmptyCredentials,
	}
}
