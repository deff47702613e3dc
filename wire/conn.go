// Package wire provides a small LDAP client connection for the bind and
// extended operations in this module. It frames BER packets over a network
// connection and matches responses to requests; general directory work
// (search, modify) is better served by go-ldap.
package wire

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/rs/zerolog"

	authx "github.com/christian-2/ldap-authx"
)

// Config controls how a Conn is established and how its operations behave.
type Config struct {
	// Timeout bounds each operation from send to response. Zero disables
	// the deadline.
	Timeout time.Duration

	// Logger receives per-operation debug logs. Leave unset to discard
	// them.
	Logger zerolog.Logger
}

// Conn is a client connection to a directory server. Operations are
// serialized: a second operation blocks until the response to the first has
// been read. Conn implements authx.BindConn and authx.ExtendedConn.
type Conn struct {
	conn net.Conn
	cfg  Config

	mu     sync.Mutex
	nextID int32
}

// Dial connects to a directory server over a plaintext connection.
func Dial(network, address string, cfg Config) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.Dial(network, address)
	if err != nil {
		return nil, authx.NewConnectionError("dial", err)
	}
	return NewConn(conn, cfg), nil
}

// DialTLS connects to a directory server over TLS.
func DialTLS(network, address string, tlsConfig *tls.Config, cfg Config) (*Conn, error) {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.Timeout},
		Config:    tlsConfig,
	}
	conn, err := d.Dial(network, address)
	if err != nil {
		return nil, authx.NewConnectionError("dial", err)
	}
	return NewConn(conn, cfg), nil
}

// NewConn wraps an established network connection.
func NewConn(conn net.Conn, cfg Config) *Conn {
	return &Conn{conn: conn, cfg: cfg}
}

// RemoteAddr returns the address of the directory server.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SimpleBind sends a simple bind request and reads its response. A
// non-success result code is reported through the result, not as an error.
func (c *Conn) SimpleBind(bindDN, password string, controls []authx.Control) (*authx.BindResult, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messageID := c.nextMessageID()
	c.cfg.Logger.Debug().Int32("messageID", messageID).Str("bindDN", bindDN).Msg("sending simple bind request")
	request := authx.NewMessageEnvelope(messageID, authx.EncodeSimpleBindRequest(bindDN, password), controls)
	return c.finishBind("simple bind", request, messageID)
}

// SASLBind sends a SASL bind request and reads its response. The returned
// message ID identifies the request even when the operation fails after the
// ID was assigned.
func (c *Conn) SASLBind(mechanism string, credentials []byte, controls []authx.Control) (*authx.BindResult, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messageID := c.nextMessageID()
	c.cfg.Logger.Debug().Int32("messageID", messageID).Str("mechanism", mechanism).Msg("sending SASL bind request")
	request := authx.NewMessageEnvelope(messageID, authx.EncodeSASLBindRequest("", mechanism, credentials), controls)
	return c.finishBind("sasl bind", request, messageID)
}

func (c *Conn) finishBind(op string, request *ber.Packet, messageID int32) (*authx.BindResult, int32, error) {
	responseOp, responseControls, err := c.exchange(op, request, messageID)
	if err != nil {
		return nil, messageID, err
	}
	result, err := authx.ParseBindResponse(responseOp)
	if err != nil {
		return nil, messageID, authx.NewConnectionError(op, err)
	}
	result.Controls = responseControls
	c.cfg.Logger.Debug().Int32("messageID", messageID).Stringer("result", &result.Result).Msg("received bind response")
	return result, messageID, nil
}

// Extended sends an extended request and reads its response. A non-success
// result code is reported through the result, not as an error.
func (c *Conn) Extended(oid string, value []byte, controls []authx.Control) (*authx.ExtendedResult, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messageID := c.nextMessageID()
	c.cfg.Logger.Debug().Int32("messageID", messageID).Str("oid", oid).Msg("sending extended request")
	request := authx.NewMessageEnvelope(messageID, authx.EncodeExtendedRequest(oid, value), controls)
	responseOp, responseControls, err := c.exchange("extended", request, messageID)
	if err != nil {
		return nil, messageID, err
	}
	result, err := authx.ParseExtendedResponse(responseOp)
	if err != nil {
		return nil, messageID, authx.NewConnectionError("extended", err)
	}
	result.Controls = responseControls
	c.cfg.Logger.Debug().Int32("messageID", messageID).Stringer("result", &result.Result).Msg("received extended response")
	return result, messageID, nil
}

// Unbind sends an unbind request and closes the connection. The server does
// not respond to an unbind.
func (c *Conn) Unbind() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	messageID := c.nextMessageID()
	request := authx.NewMessageEnvelope(messageID, authx.NewUnbindRequest(), nil)
	if _, err := c.conn.Write(request.Bytes()); err != nil {
		c.conn.Close()
		return authx.NewConnectionError("unbind", err)
	}
	return c.conn.Close()
}

// Close closes the connection without sending an unbind request.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) nextMessageID() int32 {
	c.nextID++
	return c.nextID
}

// exchange writes a request envelope and reads envelopes until the response
// with the matching message ID arrives. Unsolicited notifications (message
// ID zero) are skipped.
func (c *Conn) exchange(op string, request *ber.Packet, messageID int32) (*ber.Packet, []authx.Control, error) {
	if c.cfg.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return nil, nil, authx.NewConnectionError(op, err)
		}
	}
	if _, err := c.conn.Write(request.Bytes()); err != nil {
		return nil, nil, authx.NewConnectionError(op, err)
	}
	for {
		packet, err := ber.ReadPacket(c.conn)
		if err != nil {
			return nil, nil, authx.NewConnectionError(op, err)
		}
		id, responseOp, controls, err := authx.ParseMessageEnvelope(packet)
		if err != nil {
			return nil, nil, authx.NewConnectionError(op, err)
		}
		if id == 0 {
			c.cfg.Logger.Debug().Msg("skipping unsolicited notification")
			continue
		}
		if id != messageID {
			return nil, nil, authx.NewConnectionError(op,
				fmt.Errorf("received a response for message ID %d while waiting for %d", id, messageID))
		}
		return responseOp, controls, nil
	}
}
