package authx

import (
	ber "github.com/go-asn1-ber/asn1-ber"
)

// fakeBindConn records the last SASL bind sent through it and replies with a
// canned outcome.
type fakeBindConn struct {
	mechanism   string
	credentials []byte
	controls    []Control

	result    *BindResult
	messageID int32
	err       error
}

func (c *fakeBindConn) SASLBind(mechanism string, credentials []byte, controls []Control) (*BindResult, int32, error) {
	c.mechanism = mechanism
	c.credentials = credentials
	c.controls = controls
	return c.result, c.messageID, c.err
}

// fakeExtendedConn records the last extended request sent through it and
// replies with a canned outcome.
type fakeExtendedConn struct {
	oid      string
	value    []byte
	controls []Control

	result    *ExtendedResult
	messageID int32
	err       error
}

func (c *fakeExtendedConn) Extended(oid string, value []byte, controls []Control) (*ExtendedResult, int32, error) {
	c.oid = oid
	c.value = value
	c.controls = controls
	return c.result, c.messageID, c.err
}

func successBindResult() *BindResult {
	return &BindResult{Result: Result{Code: ResultSuccess}}
}

// credentialSequence builds a credentials payload from pre-encoded fields,
// for tests that need malformed or unexpected field sets.
func credentialSequence(fields ...*ber.Packet) []byte {
	sequence := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "credentials")
	for _, field := range fields {
		sequence.AppendChild(field)
	}
	return sequence.Bytes()
}
