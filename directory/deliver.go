package directory

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	authx "github.com/christian-2/ldap-authx"
	"github.com/christian-2/ldap-authx/delivery"
)

func extendedFailure(code authx.ResultCode, diagnosticMessage string) *authx.ExtendedResult {
	return &authx.ExtendedResult{Result: authx.Result{
		Code:              code,
		DiagnosticMessage: diagnosticMessage,
	}}
}

const noUsableMechanismMessage = "none of the requested delivery mechanisms are supported and usable for the target user"

func (s *session) deliverOTP(value []byte) *authx.ExtendedResult {
	request, err := authx.DecodeDeliverOTPExtendedRequestValue(value)
	if err != nil {
		return extendedFailure(authx.ResultProtocolError, err.Error())
	}
	acct := s.srv.resolveAuthenticationID(request.AuthenticationID())
	if acct == nil || !acct.passwordMatches(request.StaticPassword()) {
		return extendedFailure(authx.ResultInvalidCredentials, "authentication failed")
	}
	preferred := make([]authx.PreferredDeliveryMechanism, 0, len(request.PreferredMechanisms()))
	for _, name := range request.PreferredMechanisms() {
		preferred = append(preferred, authx.PreferredDeliveryMechanism{Name: name})
	}
	mechanism, recipient, ok := s.srv.selectDelivery(acct, preferred)
	if !ok {
		return extendedFailure(authx.ResultUnwillingToPerform, noUsableMechanismMessage)
	}
	code, err := randomDigits(6)
	if err != nil {
		return extendedFailure(authx.ResultOther, fmt.Sprintf("generating a one-time password: %v", err))
	}
	body := fmt.Sprintf("Your one-time password is %s.", code)
	if err := mechanism.Deliver(recipient, "One-time password", body); err != nil {
		return extendedFailure(authx.ResultOther, fmt.Sprintf("delivering the one-time password: %v", err))
	}
	s.srv.metrics.deliveries.WithLabelValues(mechanism.Name()).Inc()
	s.log.Info().
		Str("mechanism", mechanism.Name()).
		Str("recipient", s.srv.tokenize(recipient)).
		Msg("delivered a one-time password")
	message := fmt.Sprintf("a one-time password has been sent via %s", mechanism.Name())
	result, err := authx.NewDeliverOTPExtendedResult(mechanism.Name(), recipient, message)
	if err != nil {
		return extendedFailure(authx.ResultOther, err.Error())
	}
	return &result.ExtendedResult
}

func (s *session) deliverPasswordResetToken(value []byte) *authx.ExtendedResult {
	if s.acct == nil || !s.acct.Privileged {
		return extendedFailure(authx.ResultInsufficientAccessRights,
			"delivering a password reset token requires a privileged account")
	}
	request, err := authx.DecodeDeliverPasswordResetTokenExtendedRequestValue(value)
	if err != nil {
		return extendedFailure(authx.ResultProtocolError, err.Error())
	}
	acct := s.srv.accountByDN(request.UserDN())
	if acct == nil {
		return extendedFailure(authx.ResultNoSuchObject,
			fmt.Sprintf("no user entry exists with DN %q", request.UserDN()))
	}
	mechanism, recipient, ok := s.srv.selectDelivery(acct, request.PreferredMechanisms())
	if !ok {
		return extendedFailure(authx.ResultUnwillingToPerform, noUsableMechanismMessage)
	}
	token, err := randomToken()
	if err != nil {
		return extendedFailure(authx.ResultOther, fmt.Sprintf("generating a reset token: %v", err))
	}
	body := fmt.Sprintf("Your password reset token is %s.", token)
	if err := mechanism.Deliver(recipient, "Password reset token", body); err != nil {
		return extendedFailure(authx.ResultOther, fmt.Sprintf("delivering the reset token: %v", err))
	}
	s.srv.metrics.deliveries.WithLabelValues(mechanism.Name()).Inc()
	s.log.Info().
		Str("mechanism", mechanism.Name()).
		Str("recipient", s.srv.tokenize(recipient)).
		Str("userDN", request.UserDN()).
		Msg("delivered a password reset token")
	var controls []authx.Control
	if s.srv.cfg.AssuredReplication {
		controls = append(controls, s.srv.assuredReplicationControl())
	}
	message := fmt.Sprintf("a password reset token has been sent via %s", mechanism.Name())
	result, err := authx.NewDeliverPasswordResetTokenExtendedResult(mechanism.Name(), recipient, message, controls...)
	if err != nil {
		return extendedFailure(authx.ResultOther, err.Error())
	}
	return &result.ExtendedResult
}

// selectDelivery picks the first usable delivery mechanism. Preferences are
// honored in order; with no preferences the server's own order decides. A
// mechanism is usable when the server carries it and a recipient is known,
// either from the preference or from the account.
func (s *Server) selectDelivery(acct *account, preferred []authx.PreferredDeliveryMechanism) (delivery.Mechanism, string, bool) {
	candidates := preferred
	if len(candidates) == 0 {
		candidates = make([]authx.PreferredDeliveryMechanism, 0, len(s.cfg.Mechanisms))
		for _, mechanism := range s.cfg.Mechanisms {
			candidates = append(candidates, authx.PreferredDeliveryMechanism{Name: mechanism.Name()})
		}
	}
	for _, candidate := range candidates {
		mechanism := s.mechanismByName(candidate.Name)
		if mechanism == nil {
			continue
		}
		recipient := candidate.RecipientID
		if recipient == "" {
			recipient = acct.recipientFor(mechanism.Name())
		}
		if recipient == "" {
			continue
		}
		return mechanism, recipient, true
	}
	return nil, "", false
}

func (s *Server) mechanismByName(name string) delivery.Mechanism {
	for _, mechanism := range s.cfg.Mechanisms {
		if strings.EqualFold(mechanism.Name(), name) {
			return mechanism
		}
	}
	return nil
}

func (s *Server) assuredReplicationControl() *authx.AssuredReplicationResponseControl {
	localLevel := authx.LocalLevelProcessedAllServers
	remoteLevel := authx.RemoteLevelReceivedAnyRemoteLocation
	serverID := s.cfg.ReplicationServerID
	return &authx.AssuredReplicationResponseControl{
		LocalLevel:               &localLevel,
		LocalAssuranceSatisfied:  true,
		RemoteLevel:              &remoteLevel,
		RemoteAssuranceSatisfied: true,
		CSN:                      s.nextCSN(),
		ServerResults: []authx.AssuredReplicationServerResult{{
			Code:     authx.ServerResultComplete,
			ServerID: &serverID,
		}},
	}
}

func (s *Server) nextCSN() string {
	return fmt.Sprintf("%016X%04X%08X",
		time.Now().UnixMilli(), uint16(s.cfg.ReplicationServerID), s.csn.Add(1))
}

func randomDigits(count int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < count; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	value, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", count, value), nil
}

func randomToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
