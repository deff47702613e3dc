package authx

import (
	"fmt"
	"strings"
)

// ExtendedConn is the connection surface an extended request needs.
// wire.Conn implements it. The message ID is assigned before the send blocks
// and is returned even when the operation subsequently fails; a message ID
// of zero means no message was assigned.
type ExtendedConn interface {
	Extended(oid string, value []byte, controls []Control) (*ExtendedResult, int32, error)
}

// ExtendedRequest is a generic LDAP extended request identified by OID. The
// typed requests in this package build on it; it can also be used directly
// for operations without a typed wrapper.
type ExtendedRequest struct {
	requestState
	oid      string
	value    []byte
	controls []Control
}

// NewExtendedRequest creates an extended request. oid is required; value may
// be nil for operations without a request value.
func NewExtendedRequest(oid string, value []byte, controls ...Control) (*ExtendedRequest, error) {
	if oid == "" {
		return nil, usageErrorf("an extended request requires an OID")
	}
	return &ExtendedRequest{
		requestState: newRequestState(),
		oid:          oid,
		value:        copyBytes(value),
		controls:     copyControls(controls),
	}, nil
}

// OID returns the request OID.
func (r *ExtendedRequest) OID() string {
	return r.oid
}

// Value returns the request value, or nil when the request carries none.
func (r *ExtendedRequest) Value() []byte {
	return copyBytes(r.value)
}

// Controls returns the request controls.
func (r *ExtendedRequest) Controls() []Control {
	return r.controls
}

// Process sends the extended request over conn and returns the outcome. A
// non-success result code is reported through the result, not as an error.
func (r *ExtendedRequest) Process(conn ExtendedConn) (*ExtendedResult, error) {
	result, messageID, err := conn.Extended(r.oid, r.value, r.controls)
	if messageID > 0 {
		r.lastMessageID = messageID
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *ExtendedRequest) Duplicate() *ExtendedRequest {
	return &ExtendedRequest{
		requestState: newRequestState(),
		oid:          r.oid,
		value:        copyBytes(r.value),
		controls:     copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *ExtendedRequest) AppendToCode(b *strings.Builder, indent int) {
	value := "nil"
	if r.value != nil {
		value = "requestValue"
	}
	appendCodeLines(b, indent,
		"request, err := authx.NewExtendedRequest(",
		"\t"+quoteCode(r.oid)+", // request OID",
		"\t"+value+", // request value",
		")",
	)
}

func (r *ExtendedRequest) String() string {
	return fmt.Sprintf("ExtendedRequest(oid=%s, valueProvided=%t, controls=%d)",
		quoteCode(r.oid), r.value != nil, len(r.controls))
}

// ExtendedResult is the outcome of a processed extended request.
type ExtendedResult struct {
	Result

	// OID is the responseName component of the extended response, or ""
	// when the response carried none.
	OID string

	// Value is the responseValue component of the extended response, or
	// nil when the response carried none.
	Value []byte
}
