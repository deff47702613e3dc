package authx

import (
	"errors"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExternallyProcessedAuthenticationBindRequestValidation(t *testing.T) {
	for _, tc := range []struct {
		name              string
		externalMechanism string
		authenticationID  string
		properties        *ExternallyProcessedAuthenticationProperties
	}{
		{name: "missing mechanism name", externalMechanism: "", authenticationID: "u:john.doe"},
		{name: "missing authentication ID", externalMechanism: "RADIUS", authenticationID: ""},
		{
			name:              "log property without a name",
			externalMechanism: "RADIUS",
			authenticationID:  "u:john.doe",
			properties: &ExternallyProcessedAuthenticationProperties{
				AdditionalAccessLogProperties: []LogProperty{{Name: "", Value: "x"}},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewExternallyProcessedAuthenticationBindRequest(tc.externalMechanism, tc.authenticationID, true, tc.properties)
			require.Error(t, err)

			var usageErr *UsageError
			assert.True(t, errors.As(err, &usageErr))
		})
	}
}

func TestExternallyProcessedAuthenticationBindRequestCredentialsRoundTrip(t *testing.T) {
	passwordBased := true
	secure := false
	properties := &ExternallyProcessedAuthenticationProperties{
		FailureReason:      "account locked",
		PasswordBased:      &passwordBased,
		Secure:             &secure,
		EndClientIPAddress: "192.0.2.17",
		AdditionalAccessLogProperties: []LogProperty{
			{Name: "radiusServer", Value: "radius1.example.com"},
			{Name: "sessionID", Value: "abc123"},
		},
	}

	request, err := NewExternallyProcessedAuthenticationBindRequest("RADIUS", "u:john.doe", false, properties)
	require.NoError(t, err)
	assert.Equal(t, ExternallyProcessedAuthenticationMechanismName, request.SASLMechanismName())

	credentials, err := request.EncodeCredentials()
	require.NoError(t, err)

	decoded, err := DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials)
	require.NoError(t, err)
	assert.Equal(t, "RADIUS", decoded.ExternalMechanismName())
	assert.Equal(t, "u:john.doe", decoded.AuthenticationID())
	assert.False(t, decoded.Successful())
	assert.Equal(t, "account locked", decoded.FailureReason())
	require.NotNil(t, decoded.PasswordBased())
	assert.True(t, *decoded.PasswordBased())
	require.NotNil(t, decoded.Secure())
	assert.False(t, *decoded.Secure())
	assert.Equal(t, "192.0.2.17", decoded.EndClientIPAddress())

	logProperties := decoded.AdditionalAccessLogProperties()
	require.Len(t, logProperties, 2)
	assert.Equal(t, LogProperty{Name: "radiusServer", Value: "radius1.example.com"}, logProperties[0])
	assert.Equal(t, LogProperty{Name: "sessionID", Value: "abc123"}, logProperties[1])
}

func TestExternallyProcessedAuthenticationBindRequestMinimalRoundTrip(t *testing.T) {
	request, err := NewExternallyProcessedAuthenticationBindRequest("SAML", "u:john.doe", true, nil)
	require.NoError(t, err)

	credentials, err := request.EncodeCredentials()
	require.NoError(t, err)

	decoded, err := DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials)
	require.NoError(t, err)
	assert.Equal(t, "SAML", decoded.ExternalMechanismName())
	assert.True(t, decoded.Successful())
	assert.Empty(t, decoded.FailureReason())
	assert.Nil(t, decoded.PasswordBased())
	assert.Nil(t, decoded.Secure())
	assert.Empty(t, decoded.AdditionalAccessLogProperties())
}

func TestDecodeExternallyProcessedAuthenticationCredentialsMissingSuccessful(t *testing.T) {
	credentials := credentialSequence(
		contextString(extAuthTagMechanismName, "RADIUS", "externalMechanismName"),
		contextString(extAuthTagAuthenticationID, "u:john.doe", "authenticationID"),
	)

	_, err := DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "successful")
}

func TestDecodeExternallyProcessedAuthenticationCredentialsMalformedLogProperty(t *testing.T) {
	pair := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "property")
	pair.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "oneElementOnly", "name"))
	logProperties := contextSequence(extAuthTagLogProperties, "logProperties")
	logProperties.AppendChild(pair)

	credentials := credentialSequence(
		contextString(extAuthTagMechanismName, "RADIUS", "externalMechanismName"),
		contextString(extAuthTagAuthenticationID, "u:john.doe", "authenticationID"),
		contextBoolean(extAuthTagSuccessful, true, "successful"),
		logProperties,
	)

	_, err := DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDecodeExternallyProcessedAuthenticationCredentialsUnknownTag(t *testing.T) {
	credentials := credentialSequence(
		contextString(extAuthTagMechanismName, "RADIUS", "externalMechanismName"),
		contextString(extAuthTagAuthenticationID, "u:john.doe", "authenticationID"),
		contextBoolean(extAuthTagSuccessful, true, "successful"),
		contextString(12, "surprise", "unknown"),
	)

	_, err := DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestExternallyProcessedAuthenticationBindRequestDuplicate(t *testing.T) {
	secure := true
	properties := &ExternallyProcessedAuthenticationProperties{
		Secure: &secure,
		AdditionalAccessLogProperties: []LogProperty{
			{Name: "sessionID", Value: "abc123"},
		},
	}
	request, err := NewExternallyProcessedAuthenticationBindRequest("RADIUS", "u:john.doe", true, properties)
	require.NoError(t, err)

	conn := &fakeBindConn{result: successBindResult(), messageID: 9}
	_, err = request.Process(conn)
	require.NoError(t, err)
	require.Equal(t, int32(9), request.LastMessageID())

	duplicate, ok := request.Duplicate().(*ExternallyProcessedAuthenticationBindRequest)
	require.True(t, ok)
	assert.Equal(t, int32(-1), duplicate.LastMessageID())
	assert.Equal(t, request.ExternalMechanismName(), duplicate.ExternalMechanismName())
	require.NotNil(t, duplicate.Secure())
	assert.True(t, *duplicate.Secure())

	// Mutating the copy returned by an accessor must not leak back in.
	leaked := duplicate.AdditionalAccessLogProperties()
	leaked[0].Value = "mutated"
	assert.Equal(t, "abc123", duplicate.AdditionalAccessLogProperties()[0].Value)
}
