package authx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeliverOTPExtendedRequestValidation(t *testing.T) {
	for _, tc := range []struct {
		name                string
		authenticationID    string
		staticPassword      string
		preferredMechanisms []string
	}{
		{name: "missing authentication ID", authenticationID: "", staticPassword: "s3cret"},
		{name: "missing static password", authenticationID: "u:john.doe", staticPassword: ""},
		{
			name:                "empty preferred mechanism name",
			authenticationID:    "u:john.doe",
			staticPassword:      "s3cret",
			preferredMechanisms: []string{"SMS", ""},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDeliverOTPExtendedRequest(tc.authenticationID, tc.staticPassword, tc.preferredMechanisms)
			require.Error(t, err)

			var usageErr *UsageError
			assert.True(t, errors.As(err, &usageErr))
		})
	}
}

func TestDeliverOTPExtendedRequestValueRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name                string
		preferredMechanisms []string
	}{
		{name: "no preferred mechanisms"},
		{name: "preferred mechanisms", preferredMechanisms: []string{"SMS", "E-Mail"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			request, err := NewDeliverOTPExtendedRequest("u:john.doe", "s3cret", tc.preferredMechanisms)
			require.NoError(t, err)
			assert.Equal(t, DeliverOTPRequestOID, request.OID())

			decoded, err := DecodeDeliverOTPExtendedRequestValue(request.EncodeValue())
			require.NoError(t, err)
			assert.Equal(t, "u:john.doe", decoded.AuthenticationID())
			assert.Equal(t, "s3cret", decoded.StaticPassword())
			assert.Equal(t, tc.preferredMechanisms, decoded.PreferredMechanisms())
		})
	}
}

func TestDecodeDeliverOTPExtendedRequestValueRejectsMalformedInput(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value []byte
	}{
		{name: "empty", value: nil},
		{name: "garbage", value: []byte{0xff, 0x00}},
		{
			name: "missing authentication ID",
			value: credentialSequence(
				contextString(deliverOTPTagStaticPassword, "s3cret", "staticPassword"),
			),
		},
		{
			name: "unknown tag",
			value: credentialSequence(
				contextString(deliverOTPTagAuthenticationID, "u:john.doe", "authenticationID"),
				contextString(deliverOTPTagStaticPassword, "s3cret", "staticPassword"),
				contextString(9, "surprise", "unknown"),
			),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDeliverOTPExtendedRequestValue(tc.value)
			require.Error(t, err)
		})
	}
}

func TestDeliverOTPExtendedRequestProcess(t *testing.T) {
	request, err := NewDeliverOTPExtendedRequest("u:john.doe", "s3cret", []string{"SMS"})
	require.NoError(t, err)

	success, err := NewDeliverOTPExtendedResult("SMS", "+1 123 456 7890", "Your code is 123456")
	require.NoError(t, err)

	conn := &fakeExtendedConn{result: &success.ExtendedResult, messageID: 5}
	result, err := request.Process(conn)
	require.NoError(t, err)
	assert.Equal(t, DeliverOTPRequestOID, conn.oid)
	assert.True(t, result.Success())
	assert.Equal(t, "SMS", result.DeliveryMechanism())
	assert.Equal(t, "+1 123 456 7890", result.RecipientID())
	assert.Equal(t, "Your code is 123456", result.Message())
	assert.Equal(t, int32(5), request.LastMessageID())

	duplicate := request.Duplicate()
	assert.Equal(t, int32(-1), duplicate.LastMessageID())
	assert.Equal(t, request.PreferredMechanisms(), duplicate.PreferredMechanisms())
}

func TestDecodeDeliverOTPExtendedResult(t *testing.T) {
	t.Run("non-success leaves delivery fields empty", func(t *testing.T) {
		result, err := DecodeDeliverOTPExtendedResult(&ExtendedResult{
			Result: Result{Code: ResultUnwillingToPerform, DiagnosticMessage: "no supported mechanism"},
		})
		require.NoError(t, err)
		assert.False(t, result.Success())
		assert.Empty(t, result.DeliveryMechanism())
		assert.Empty(t, result.RecipientID())
		assert.Empty(t, result.Message())
	})

	t.Run("success without a value is rejected", func(t *testing.T) {
		_, err := DecodeDeliverOTPExtendedResult(&ExtendedResult{Result: Result{Code: ResultSuccess}})
		require.Error(t, err)

		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))
	})

	t.Run("success without a recipient ID", func(t *testing.T) {
		built, err := NewDeliverOTPExtendedResult("Mobile Push", "", "")
		require.NoError(t, err)

		result, err := DecodeDeliverOTPExtendedResult(&built.ExtendedResult)
		require.NoError(t, err)
		assert.Equal(t, "Mobile Push", result.DeliveryMechanism())
		assert.Empty(t, result.RecipientID())
	})
}

func TestNewDeliverOTPExtendedResultRequiresMechanism(t *testing.T) {
	_, err := NewDeliverOTPExtendedResult("", "", "")
	require.Error(t, err)

	var usageErr *UsageError
	assert.True(t, errors.As(err, &usageErr))
}
