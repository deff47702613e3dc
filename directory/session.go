package directory

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/glauth/ldap"
	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/rs/zerolog"

	authx "github.com/christian-2/ldap-authx"
	"github.com/christian-2/ldap-authx/otp"
)

type session struct {
	srv     *Server
	conn    net.Conn
	log     zerolog.Logger
	boundDN string
	acct    *account
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		log:  srv.log.With().Str("client", conn.RemoteAddr().String()).Logger(),
	}
}

func (s *session) serve() {
	defer s.conn.Close()
	for {
		packet, err := ber.ReadPacket(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Msg("closing connection")
			}
			return
		}
		messageID, op, _, err := authx.ParseMessageEnvelope(packet)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed message")
			return
		}
		if op.ClassType != ber.ClassApplication {
			s.log.Warn().Msg("dropping message with unexpected operation class")
			return
		}
		var opErr error
		switch op.Tag {
		case authx.ApplicationBindRequest:
			opErr = s.handleBind(messageID, op)
		case authx.ApplicationSearchRequest:
			opErr = s.handleSearch(messageID, op)
		case authx.ApplicationExtendedRequest:
			opErr = s.handleExtended(messageID, op)
		case authx.ApplicationUnbindRequest:
			return
		default:
			s.log.Warn().Uint64("tag", uint64(op.Tag)).Msg("ignoring unsupported operation")
		}
		if opErr != nil {
			s.log.Debug().Err(opErr).Msg("closing connection")
			return
		}
	}
}

func (s *session) send(messageID int32, op *ber.Packet, controls []authx.Control) error {
	envelope := authx.NewMessageEnvelope(messageID, op, controls)
	if _, err := s.conn.Write(envelope.Bytes()); err != nil {
		return fmt.Errorf("writing a response: %w", err)
	}
	return nil
}

func (s *session) bindAs(acct *account) {
	s.boundDN = acct.dn
	s.acct = acct
}

func bindSuccess() *authx.BindResult {
	return &authx.BindResult{Result: authx.Result{Code: authx.ResultSuccess}}
}

func bindFailure(code authx.ResultCode, diagnosticMessage string) *authx.BindResult {
	return &authx.BindResult{Result: authx.Result{
		Code:              code,
		DiagnosticMessage: diagnosticMessage,
	}}
}

func (s *session) handleBind(messageID int32, op *ber.Packet) error {
	mechanism := "simple"
	var res *authx.BindResult
	if sasl, err := authx.ParseSASLBindRequest(op); err == nil {
		mechanism = sasl.Mechanism
		res = s.saslBind(sasl)
	} else if simple, err := authx.ParseSimpleBindRequest(op); err == nil {
		res = s.simpleBind(simple)
	} else {
		res = bindFailure(authx.ResultProtocolError, "the bind request is malformed")
	}
	// RFC 4511: a failed bind leaves the connection anonymous.
	if !res.Success() {
		s.boundDN, s.acct = "", nil
	}
	s.srv.metrics.binds.WithLabelValues(mechanism, resultLabel(res.Code)).Inc()
	s.log.Info().
		Str("mechanism", mechanism).
		Str("boundDN", s.boundDN).
		Stringer("result", res.Code).
		Msg("bind request")
	return s.send(messageID, authx.EncodeBindResponse(res), nil)
}

func (s *session) simpleBind(bind *authx.SimpleBind) *authx.BindResult {
	if bind.BindDN == "" && bind.Password == "" {
		return bindSuccess()
	}
	if bind.Password == "" {
		return bindFailure(authx.ResultUnwillingToPerform, "unauthenticated simple binds are not allowed")
	}
	acct := s.srv.accountByDN(bind.BindDN)
	if acct == nil || !acct.passwordMatches(bind.Password) {
		return bindFailure(authx.ResultInvalidCredentials, "the provided credentials are invalid")
	}
	s.bindAs(acct)
	return bindSuccess()
}

func (s *session) saslBind(bind *authx.SASLBind) *authx.BindResult {
	decoder, ok := authx.LookupMechanism(bind.Mechanism)
	if !ok {
		return bindFailure(authx.ResultAuthMethodNotSupported,
			fmt.Sprintf("the %s SASL mechanism is not supported", bind.Mechanism))
	}
	decoded, err := decoder(bind.Credentials)
	if err != nil {
		return bindFailure(authx.ResultInvalidCredentials,
			fmt.Sprintf("decoding the %s credentials: %v", bind.Mechanism, err))
	}
	switch request := decoded.(type) {
	case *authx.TOTPBindRequest:
		return s.totpBind(request)
	case *authx.YubiKeyOTPBindRequest:
		return s.yubiKeyOTPBind(request)
	case *authx.CertificatePlusPasswordBindRequest:
		return s.certificatePlusPasswordBind(request)
	case *authx.ExternallyProcessedAuthenticationBindRequest:
		return s.externallyProcessedBind(request)
	case *authx.OAuthBearerCredentials:
		return s.oauthBearerBind(request)
	default:
		return bindFailure(authx.ResultAuthMethodNotSupported,
			fmt.Sprintf("the %s SASL mechanism has no server-side handler", bind.Mechanism))
	}
}

// checkAuthorizationID verifies that an optional authorization identity
// matches the authenticated account. The server does not support assuming
// another identity.
func (s *session) checkAuthorizationID(acct *account, authorizationID string) *authx.BindResult {
	if authorizationID == "" {
		return nil
	}
	if target := s.srv.resolveAuthenticationID(authorizationID); target != acct {
		return bindFailure(authx.ResultAuthorizationDenied,
			fmt.Sprintf("the authorization identity %q is not permitted", authorizationID))
	}
	return nil
}

func (s *session) totpBind(request *authx.TOTPBindRequest) *authx.BindResult {
	acct := s.srv.resolveAuthenticationID(request.AuthenticationID())
	if acct == nil {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	if acct.TOTPSecret == "" {
		return bindFailure(authx.ResultInappropriateAuthentication,
			"the account has no TOTP secret")
	}
	if res := s.checkAuthorizationID(acct, request.AuthorizationID()); res != nil {
		return res
	}
	if request.StaticPassword() != "" && !acct.passwordMatches(request.StaticPassword()) {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	ok, err := otp.ValidateTOTP(request.TOTPPassword(), acct.TOTPSecret, time.Now(), s.srv.cfg.TOTP)
	if err != nil {
		return bindFailure(authx.ResultOther, fmt.Sprintf("validating the TOTP password: %v", err))
	}
	if !ok {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	s.bindAs(acct)
	return bindSuccess()
}

func (s *session) yubiKeyOTPBind(request *authx.YubiKeyOTPBindRequest) *authx.BindResult {
	verifier := s.srv.cfg.YubiKeyVerifier
	if verifier == nil {
		return bindFailure(authx.ResultAuthMethodNotSupported,
			"YubiKey OTP binds are not enabled on this server")
	}
	acct := s.srv.resolveAuthenticationID(request.AuthenticationID())
	if acct == nil {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	if res := s.checkAuthorizationID(acct, request.AuthorizationID()); res != nil {
		return res
	}
	if request.StaticPassword() != "" && !acct.passwordMatches(request.StaticPassword()) {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	publicID, err := otp.YubiKeyPublicID(request.YubiKeyOTP())
	if err != nil {
		return bindFailure(authx.ResultInvalidCredentials, "the YubiKey OTP is malformed")
	}
	if !acct.hasYubiKeyID(publicID) {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	ok, err := verifier.VerifyOTP(request.YubiKeyOTP())
	if err != nil {
		return bindFailure(authx.ResultOther, fmt.Sprintf("verifying the YubiKey OTP: %v", err))
	}
	if !ok {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	s.bindAs(acct)
	return bindSuccess()
}

func (s *session) certificatePlusPasswordBind(request *authx.CertificatePlusPasswordBindRequest) *authx.BindResult {
	subject, ok := s.peerCertificateSubject()
	if !ok {
		return bindFailure(authx.ResultInappropriateAuthentication,
			"the connection does not have a validated client certificate")
	}
	acct := s.srv.accountByUsername(subject)
	if acct == nil || !acct.passwordMatches(request.Password()) {
		return bindFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	s.bindAs(acct)
	return bindSuccess()
}

// peerCertificateSubject returns the common name of the client certificate
// presented during the TLS handshake, if there is one.
func (s *session) peerCertificateSubject() (string, bool) {
	tlsConn, ok := s.conn.(*tls.Conn)
	if !ok {
		return "", false
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", false
	}
	return state.PeerCertificates[0].Subject.CommonName, true
}

func (s *session) externallyProcessedBind(request *authx.ExternallyProcessedAuthenticationBindRequest) *authx.BindResult {
	if s.acct == nil || !s.acct.Privileged {
		return bindFailure(authx.ResultInsufficientAccessRights,
			"externally processed authentication requires a privileged account")
	}
	event := s.log.Info().
		Str("externalMechanism", request.ExternalMechanismName()).
		Str("authenticationID", s.srv.tokenize(request.AuthenticationID())).
		Bool("successful", request.Successful())
	if reason := request.FailureReason(); reason != "" {
		event.Str("failureReason", reason)
	}
	if passwordBased := request.PasswordBased(); passwordBased != nil {
		event.Bool("passwordBased", *passwordBased)
	}
	if secure := request.Secure(); secure != nil {
		event.Bool("secure", *secure)
	}
	if address := request.EndClientIPAddress(); address != "" {
		event.Str("endClientIPAddress", address)
	}
	for _, property := range request.AdditionalAccessLogProperties() {
		event.Str("log."+property.Name, property.Value)
	}
	event.Msg("externally processed authentication")

	if !request.Successful() {
		diagnosticMessage := "the external authentication attempt failed"
		if reason := request.FailureReason(); reason != "" {
			diagnosticMessage += ": " + reason
		}
		return bindFailure(authx.ResultInvalidCredentials, diagnosticMessage)
	}
	acct := s.srv.resolveAuthenticationID(request.AuthenticationID())
	if acct == nil {
		return bindFailure(authx.ResultInvalidCredentials,
			fmt.Sprintf("no account matches the authentication ID %q", request.AuthenticationID()))
	}
	s.bindAs(acct)
	return bindSuccess()
}

func (s *session) oauthBearerBind(credentials *authx.OAuthBearerCredentials) *authx.BindResult {
	username, ok := s.srv.cfg.BearerTokens[credentials.AccessToken]
	if !ok {
		return bindFailure(authx.ResultInvalidCredentials, "the bearer token is not valid")
	}
	acct := s.srv.accountByUsername(username)
	if acct == nil {
		return bindFailure(authx.ResultInvalidCredentials,
			"the bearer token does not map to an account")
	}
	if res := s.checkAuthorizationID(acct, credentials.AuthorizationID); res != nil {
		return res
	}
	s.bindAs(acct)
	return bindSuccess()
}

func (s *session) handleSearch(messageID int32, op *ber.Packet) error {
	s.srv.metrics.searches.Inc()
	req, err := parseSearchRequest(op)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting malformed search request")
		done := authx.Result{Code: authx.ResultProtocolError, DiagnosticMessage: err.Error()}
		return s.send(messageID, searchDoneOp(done), nil)
	}
	entries, res := s.srv.search(s.boundDN, req)
	s.log.Info().
		Str("boundDN", s.boundDN).
		Str("baseDN", req.baseDN).
		Str("scope", ldap.ScopeMap[int(req.scope)]).
		Str("filter", req.filter).
		Int("entries", len(entries)).
		Stringer("result", res.Code).
		Msg("search request")
	for _, entry := range entries {
		entryOp := searchEntryOp(selectAttributes(entry, req.attributes), req.typesOnly)
		if err := s.send(messageID, entryOp, nil); err != nil {
			return err
		}
	}
	return s.send(messageID, searchDoneOp(res), nil)
}

func (s *session) handleExtended(messageID int32, op *ber.Packet) error {
	oid, value, err := authx.ParseExtendedRequest(op)
	if err != nil {
		res := &authx.ExtendedResult{Result: authx.Result{
			Code:              authx.ResultProtocolError,
			DiagnosticMessage: err.Error(),
		}}
		return s.send(messageID, authx.EncodeExtendedResponse(res), nil)
	}
	var res *authx.ExtendedResult
	switch oid {
	case authx.DeliverOTPRequestOID:
		res = s.deliverOTP(value)
	case authx.DeliverPasswordResetTokenRequestOID:
		res = s.deliverPasswordResetToken(value)
	default:
		res = &authx.ExtendedResult{Result: authx.Result{
			Code:              authx.ResultProtocolError,
			DiagnosticMessage: fmt.Sprintf("the %s extended request is not supported", oid),
		}}
	}
	s.srv.metrics.extended.WithLabelValues(oid, resultLabel(res.Code)).Inc()
	s.log.Info().
		Str("oid", oid).
		Str("boundDN", s.boundDN).
		Stringer("result", res.Code).
		Msg("extended request")
	return s.send(messageID, authx.EncodeExtendedResponse(res), res.Controls)
}
