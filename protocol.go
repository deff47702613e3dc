package authx

import (
	ber "github.com/go-asn1-ber/asn1-ber"
)

// LDAP application tags (RFC 4511 section 4).
const (
	ApplicationBindRequest       ber.Tag = 0
	ApplicationBindResponse      ber.Tag = 1
	ApplicationUnbindRequest     ber.Tag = 2
	ApplicationSearchRequest     ber.Tag = 3
	ApplicationSearchResultEntry ber.Tag = 4
	ApplicationSearchResultDone  ber.Tag = 5
	ApplicationExtendedRequest   ber.Tag = 23
	ApplicationExtendedResponse  ber.Tag = 24
)

// NewMessageEnvelope wraps a protocol op and optional controls into an
// LDAPMessage with the given message ID.
func NewMessageEnvelope(messageID int32, op *ber.Packet, controls []Control) *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(messageID), "messageID"))
	packet.AppendChild(op)
	if len(controls) > 0 {
		packet.AppendChild(EncodeControls(controls))
	}
	return packet
}

// ParseMessageEnvelope splits an LDAPMessage into its message ID, protocol
// op and decoded controls.
func ParseMessageEnvelope(packet *ber.Packet) (int32, *ber.Packet, []Control, error) {
	if packet.ClassType != ber.ClassUniversal || packet.TagType != ber.TypeConstructed || packet.Tag != ber.TagSequence {
		return 0, nil, nil, decodeErrorf("message is not an LDAPMessage sequence")
	}
	if len(packet.Children) < 2 {
		return 0, nil, nil, decodeErrorf("message is missing its protocol op")
	}
	messageID, ok := intValue(packet.Children[0])
	if !ok {
		return 0, nil, nil, decodeErrorf("message has a malformed message ID")
	}
	op := packet.Children[1]
	var controls []Control
	if len(packet.Children) >= 3 {
		child := packet.Children[2]
		if child.ClassType != ber.ClassContext || child.TagType != ber.TypeConstructed || child.Tag != 0 {
			return 0, nil, nil, decodeErrorf("message has a malformed controls component")
		}
		decoded, err := decodeControls(child)
		if err != nil {
			return 0, nil, nil, err
		}
		controls = decoded
	}
	return int32(messageID), op, controls, nil
}

// EncodeSASLBindRequest builds the bind request protocol op for a SASL
// mechanism. bindDN is normally empty for the mechanisms in this package;
// the authentication identity travels inside the credentials.
func EncodeSASLBindRequest(bindDN, mechanism string, credentials []byte) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationBindRequest, nil, "Bind Request")
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 3, "Version"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, bindDN, "Bind DN"))
	auth := ber.Encode(ber.ClassContext, ber.TypeConstructed, 3, nil, "SASL Authentication")
	auth.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, mechanism, "Mechanism"))
	if credentials != nil {
		auth.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(credentials), "Credentials"))
	}
	op.AppendChild(auth)
	return op
}

// EncodeSimpleBindRequest builds the bind request protocol op for simple
// authentication.
func EncodeSimpleBindRequest(bindDN, password string) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationBindRequest, nil, "Bind Request")
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 3, "Version"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, bindDN, "Bind DN"))
	op.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, password, "Password"))
	return op
}

// SimpleBind holds the components of a parsed simple bind request.
type SimpleBind struct {
	Version  int
	BindDN   string
	Password string
}

// SASLBind holds the components of a parsed SASL bind request. Credentials
// is nil when the request omitted the optional credentials component.
type SASLBind struct {
	Version     int
	BindDN      string
	Mechanism   string
	Credentials []byte
}

func parseBindRequestCommon(op *ber.Packet) (int, string, *ber.Packet, error) {
	if op.Tag != ApplicationBindRequest || op.ClassType != ber.ClassApplication || len(op.Children) != 3 {
		return 0, "", nil, decodeErrorf("protocol op is not a bind request")
	}
	version, ok := intValue(op.Children[0])
	if !ok {
		return 0, "", nil, decodeErrorf("bind request has a malformed version")
	}
	bindDN, ok := stringValue(op.Children[1])
	if !ok {
		return 0, "", nil, decodeErrorf("bind request has a malformed bind DN")
	}
	return int(version), bindDN, op.Children[2], nil
}

// ParseSimpleBindRequest reads a bind request op whose authentication choice
// is simple.
func ParseSimpleBindRequest(op *ber.Packet) (*SimpleBind, error) {
	version, bindDN, auth, err := parseBindRequestCommon(op)
	if err != nil {
		return nil, err
	}
	if auth.ClassType != ber.ClassContext || auth.Tag != 0 {
		return nil, decodeErrorf("bind request authentication choice is not simple")
	}
	return &SimpleBind{
		Version:  version,
		BindDN:   bindDN,
		Password: fieldString(auth),
	}, nil
}

// ParseSASLBindRequest reads a bind request op whose authentication choice
// is SASL.
func ParseSASLBindRequest(op *ber.Packet) (*SASLBind, error) {
	version, bindDN, auth, err := parseBindRequestCommon(op)
	if err != nil {
		return nil, err
	}
	if auth.ClassType != ber.ClassContext || auth.TagType != ber.TypeConstructed || auth.Tag != 3 {
		return nil, decodeErrorf("bind request authentication choice is not SASL")
	}
	if len(auth.Children) < 1 || len(auth.Children) > 2 {
		return nil, decodeErrorf("bind request has malformed SASL credentials")
	}
	mechanism, ok := stringValue(auth.Children[0])
	if !ok {
		return nil, decodeErrorf("bind request has a malformed SASL mechanism name")
	}
	bind := &SASLBind{
		Version:   version,
		BindDN:    bindDN,
		Mechanism: mechanism,
	}
	if len(auth.Children) == 2 {
		credentials, ok := stringValue(auth.Children[1])
		if !ok {
			return nil, decodeErrorf("bind request has malformed SASL credentials")
		}
		bind.Credentials = []byte(credentials)
	}
	return bind, nil
}

// EncodeBindResponse builds a bind response protocol op.
func EncodeBindResponse(res *BindResult) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationBindResponse, nil, "Bind Response")
	appendResultComponents(op, res.Result)
	if res.ServerSASLCredentials != nil {
		op.AppendChild(contextString(7, string(res.ServerSASLCredentials), "serverSaslCreds"))
	}
	return op
}

// ParseBindResponse reads a bind response protocol op. Response controls are
// carried on the message envelope and must be attached by the caller.
func ParseBindResponse(op *ber.Packet) (*BindResult, error) {
	if op.Tag != ApplicationBindResponse || op.ClassType != ber.ClassApplication {
		return nil, decodeErrorf("protocol op is not a bind response")
	}
	base, extra, err := parseResultComponents(op, "bind response")
	if err != nil {
		return nil, err
	}
	res := &BindResult{Result: base}
	for _, child := range extra {
		if child.ClassType == ber.ClassContext && child.Tag == 7 {
			res.ServerSASLCredentials = fieldBytes(child)
		}
	}
	return res, nil
}

// EncodeExtendedRequest builds an extended request protocol op. value may be
// nil for operations that carry no request value.
func EncodeExtendedRequest(oid string, value []byte) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationExtendedRequest, nil, "Extended Request")
	op.AppendChild(contextString(0, oid, "requestName"))
	if value != nil {
		op.AppendChild(contextString(1, string(value), "requestValue"))
	}
	return op
}

// ParseExtendedRequest reads an extended request protocol op, returning its
// OID and request value. The value is nil when the request carried none.
func ParseExtendedRequest(op *ber.Packet) (string, []byte, error) {
	if op.Tag != ApplicationExtendedRequest || op.ClassType != ber.ClassApplication || len(op.Children) < 1 {
		return "", nil, decodeErrorf("protocol op is not an extended request")
	}
	name := op.Children[0]
	if name.ClassType != ber.ClassContext || name.Tag != 0 {
		return "", nil, decodeErrorf("extended request has a malformed request name")
	}
	oid := fieldString(name)
	var value []byte
	if len(op.Children) >= 2 {
		child := op.Children[1]
		if child.ClassType != ber.ClassContext || child.Tag != 1 {
			return "", nil, decodeErrorf("extended request has a malformed request value")
		}
		value = fieldBytes(child)
	}
	return oid, value, nil
}

// EncodeExtendedResponse builds an extended response protocol op.
func EncodeExtendedResponse(res *ExtendedResult) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationExtendedResponse, nil, "Extended Response")
	appendResultComponents(op, res.Result)
	if res.OID != "" {
		op.AppendChild(contextString(10, res.OID, "responseName"))
	}
	if res.Value != nil {
		op.AppendChild(contextString(11, string(res.Value), "responseValue"))
	}
	return op
}

// ParseExtendedResponse reads an extended response protocol op. Response
// controls are carried on the message envelope and must be attached by the
// caller.
func ParseExtendedResponse(op *ber.Packet) (*ExtendedResult, error) {
	if op.Tag != ApplicationExtendedResponse || op.ClassType != ber.ClassApplication {
		return nil, decodeErrorf("protocol op is not an extended response")
	}
	base, extra, err := parseResultComponents(op, "extended response")
	if err != nil {
		return nil, err
	}
	res := &ExtendedResult{Result: base}
	for _, child := range extra {
		if child.ClassType != ber.ClassContext {
			continue
		}
		switch child.Tag {
		case 10:
			res.OID = fieldString(child)
		case 11:
			res.Value = fieldBytes(child)
		}
	}
	return res, nil
}

// NewUnbindRequest builds an unbind request protocol op.
func NewUnbindRequest() *ber.Packet {
	return ber.Encode(ber.ClassApplication, ber.TypePrimitive, ApplicationUnbindRequest, nil, "Unbind Request")
}
