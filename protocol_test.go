package authx

import (
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reencode runs a packet through its wire form so tests see what a peer
// would see.
func reencode(t *testing.T, packet *ber.Packet) *ber.Packet {
	t.Helper()
	decoded, err := ber.DecodePacketErr(packet.Bytes())
	require.NoError(t, err)
	return decoded
}

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	op := EncodeSASLBindRequest("", TOTPMechanismName, []byte("credentials"))
	controls := []Control{
		&ControlString{ControlType: "1.2.840.113556.1.4.473", Criticality: true, ControlValue: "sort"},
	}

	envelope := reencode(t, NewMessageEnvelope(7, op, controls))

	messageID, parsedOp, parsedControls, err := ParseMessageEnvelope(envelope)
	require.NoError(t, err)
	assert.Equal(t, int32(7), messageID)
	assert.Equal(t, ApplicationBindRequest, parsedOp.Tag)
	require.Len(t, parsedControls, 1)

	control, ok := parsedControls[0].(*ControlString)
	require.True(t, ok)
	assert.Equal(t, "1.2.840.113556.1.4.473", control.ControlType)
	assert.True(t, control.Criticality)
	assert.Equal(t, "sort", control.ControlValue)
}

func TestMessageEnvelopeWithoutControls(t *testing.T) {
	envelope := reencode(t, NewMessageEnvelope(1, NewUnbindRequest(), nil))

	messageID, op, controls, err := ParseMessageEnvelope(envelope)
	require.NoError(t, err)
	assert.Equal(t, int32(1), messageID)
	assert.Equal(t, ApplicationUnbindRequest, op.Tag)
	assert.Empty(t, controls)
}

func TestParseMessageEnvelopeRejectsMalformedMessages(t *testing.T) {
	_, _, _, err := ParseMessageEnvelope(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "x", "not a message"))
	require.Error(t, err)

	short := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	short.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 1, "messageID"))
	_, _, _, err = ParseMessageEnvelope(short)
	require.Error(t, err)
}

func TestSASLBindRequestOpRoundTrip(t *testing.T) {
	t.Run("with credentials", func(t *testing.T) {
		op := reencode(t, EncodeSASLBindRequest("", YubiKeyOTPMechanismName, []byte("credentials")))

		bind, err := ParseSASLBindRequest(op)
		require.NoError(t, err)
		assert.Equal(t, 3, bind.Version)
		assert.Empty(t, bind.BindDN)
		assert.Equal(t, YubiKeyOTPMechanismName, bind.Mechanism)
		assert.Equal(t, []byte("credentials"), bind.Credentials)
	})

	t.Run("without credentials", func(t *testing.T) {
		op := reencode(t, EncodeSASLBindRequest("", "EXTERNAL", nil))

		bind, err := ParseSASLBindRequest(op)
		require.NoError(t, err)
		assert.Equal(t, "EXTERNAL", bind.Mechanism)
		assert.Nil(t, bind.Credentials)
	})
}

func TestParseSimpleBindRequest(t *testing.T) {
	op := EncodeSimpleBindRequest("cn=admin,dc=example,dc=com", "s3cret")

	bind, err := ParseSimpleBindRequest(reencode(t, op))
	require.NoError(t, err)
	assert.Equal(t, 3, bind.Version)
	assert.Equal(t, "cn=admin,dc=example,dc=com", bind.BindDN)
	assert.Equal(t, "s3cret", bind.Password)

	_, err = ParseSASLBindRequest(reencode(t, op))
	require.Error(t, err)
}

func TestBindResponseRoundTrip(t *testing.T) {
	response := &BindResult{
		Result: Result{
			Code:              ResultSASLBindInProgress,
			MatchedDN:         "dc=example,dc=com",
			DiagnosticMessage: "another round trip is required",
			Referrals:         []string{"ldap://ds2.example.com/"},
		},
		ServerSASLCredentials: []byte("server-challenge"),
	}

	parsed, err := ParseBindResponse(reencode(t, EncodeBindResponse(response)))
	require.NoError(t, err)
	assert.Equal(t, ResultSASLBindInProgress, parsed.Code)
	assert.Equal(t, "dc=example,dc=com", parsed.MatchedDN)
	assert.Equal(t, "another round trip is required", parsed.DiagnosticMessage)
	assert.Equal(t, []string{"ldap://ds2.example.com/"}, parsed.Referrals)
	assert.Equal(t, []byte("server-challenge"), parsed.ServerSASLCredentials)
	assert.False(t, parsed.Success())
}

func TestBindResponseMinimalRoundTrip(t *testing.T) {
	parsed, err := ParseBindResponse(reencode(t, EncodeBindResponse(&BindResult{
		Result: Result{Code: ResultSuccess},
	})))
	require.NoError(t, err)
	assert.True(t, parsed.Success())
	assert.Empty(t, parsed.Referrals)
	assert.Nil(t, parsed.ServerSASLCredentials)
}

func TestExtendedRequestOpRoundTrip(t *testing.T) {
	t.Run("with value", func(t *testing.T) {
		oid, value, err := ParseExtendedRequest(reencode(t, EncodeExtendedRequest(DeliverOTPRequestOID, []byte("value"))))
		require.NoError(t, err)
		assert.Equal(t, DeliverOTPRequestOID, oid)
		assert.Equal(t, []byte("value"), value)
	})

	t.Run("without value", func(t *testing.T) {
		oid, value, err := ParseExtendedRequest(reencode(t, EncodeExtendedRequest("1.3.6.1.4.1.4203.1.11.3", nil)))
		require.NoError(t, err)
		assert.Equal(t, "1.3.6.1.4.1.4203.1.11.3", oid)
		assert.Nil(t, value)
	})
}

func TestExtendedResponseOpRoundTrip(t *testing.T) {
	response := &ExtendedResult{
		Result: Result{Code: ResultSuccess},
		OID:    DeliverOTPResultOID,
		Value:  []byte("value"),
	}

	parsed, err := ParseExtendedResponse(reencode(t, EncodeExtendedResponse(response)))
	require.NoError(t, err)
	assert.True(t, parsed.Success())
	assert.Equal(t, DeliverOTPResultOID, parsed.OID)
	assert.Equal(t, []byte("value"), parsed.Value)

	plain, err := ParseExtendedResponse(reencode(t, EncodeExtendedResponse(&ExtendedResult{
		Result: Result{Code: ResultUnwillingToPerform, DiagnosticMessage: "not today"},
	})))
	require.NoError(t, err)
	assert.Equal(t, ResultUnwillingToPerform, plain.Code)
	assert.Empty(t, plain.OID)
	assert.Nil(t, plain.Value)
}
