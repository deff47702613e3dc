package authx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultCodeString(t *testing.T) {
	assert.Equal(t, "Success", ResultSuccess.String())
	assert.Equal(t, "Invalid Credentials", ResultInvalidCredentials.String())
	assert.Equal(t, "Unwilling To Perform", ResultUnwillingToPerform.String())
	assert.Equal(t, "Unknown Result Code (9999)", ResultCode(9999).String())
}

func TestResultString(t *testing.T) {
	result := &Result{Code: ResultInvalidCredentials, DiagnosticMessage: "the provided password was incorrect"}
	assert.False(t, result.Success())
	assert.Equal(t, "result 49 (Invalid Credentials): the provided password was incorrect", result.String())

	success := &Result{Code: ResultSuccess}
	assert.True(t, success.Success())
	assert.Equal(t, "result 0 (Success)", success.String())
}
