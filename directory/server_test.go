package directory

import (
	"testing"
	"time"

	ldapv3 "github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	authx "github.com/christian-2/ldap-authx"
	"github.com/christian-2/ldap-authx/delivery"
	"github.com/christian-2/ldap-authx/otp"
	"github.com/christian-2/ldap-authx/wire"
)

const (
	testBaseDN      = "dc=example,dc=com"
	testUserDN      = "uid=john.doe,ou=People,dc=example,dc=com"
	testAdminDN     = "uid=admin,ou=People,dc=example,dc=com"
	testTOTPSecret  = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	testYubiKeyOTP  = "cccccccccccbdefghijklnrtuvcccccccccccbdefghi"
	testBearerToken = "mF_9.B5f-4.1JqM"
)

type testServer struct {
	srv  *Server
	sms  *delivery.Recorder
	mail *delivery.Recorder
}

func startTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	sms := delivery.NewRecorder("SMS")
	mail := delivery.NewRecorder("E-Mail")
	cfg := Config{
		BaseDN: testBaseDN,
		Users: []User{
			{
				Username:   "john.doe",
				Password:   "secret123",
				GivenName:  "John",
				Surname:    "Doe",
				Mail:       "john.doe@example.com",
				Mobile:     "+15551234567",
				TOTPSecret: testTOTPSecret,
				YubiKeyIDs: []string{"cccccccccccb"},
			},
			{
				Username:   "admin",
				Password:   "admin-secret",
				Privileged: true,
			},
		},
		Mechanisms:      []delivery.Mechanism{sms, mail},
		YubiKeyVerifier: otp.NewStaticVerifier("cccccccccccb"),
		BearerTokens:    map[string]string{testBearerToken: "john.doe"},
		LogPepper:       []byte("test-pepper"),
		Logger:          zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Shutdown)
	return &testServer{srv: srv, sms: sms, mail: mail}
}

func (ts *testServer) dial(t *testing.T) *wire.Conn {
	t.Helper()
	conn, err := wire.Dial("tcp", ts.srv.Addr(), wire.Config{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) bindAsAdmin(t *testing.T, conn *wire.Conn) {
	t.Helper()
	res, _, err := conn.SimpleBind(testAdminDN, "admin-secret", nil)
	require.NoError(t, err)
	require.True(t, res.Success(), res.Result.String())
}

func TestSimpleBind(t *testing.T) {
	ts := startTestServer(t, nil)

	t.Run("valid credentials", func(t *testing.T) {
		conn := ts.dial(t)
		res, messageID, err := conn.SimpleBind(testUserDN, "secret123", nil)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
		require.EqualValues(t, 1, messageID)
	})

	t.Run("wrong password", func(t *testing.T) {
		conn := ts.dial(t)
		res, _, err := conn.SimpleBind(testUserDN, "wrong", nil)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInvalidCredentials, res.Code)
		require.NotEmpty(t, res.DiagnosticMessage)
	})

	t.Run("anonymous", func(t *testing.T) {
		conn := ts.dial(t)
		res, _, err := conn.SimpleBind("", "", nil)
		require.NoError(t, err)
		require.True(t, res.Success())
	})

	t.Run("unauthenticated bind refused", func(t *testing.T) {
		conn := ts.dial(t)
		res, _, err := conn.SimpleBind(testUserDN, "", nil)
		require.NoError(t, err)
		require.Equal(t, authx.ResultUnwillingToPerform, res.Code)
	})
}

func TestTOTPBind(t *testing.T) {
	ts := startTestServer(t, nil)

	t.Run("valid one-time password", func(t *testing.T) {
		conn := ts.dial(t)
		code, err := otp.GenerateTOTP(testTOTPSecret, time.Now(), otp.TOTPOptions{})
		require.NoError(t, err)
		request, err := authx.NewTOTPBindRequest("u:john.doe", "", code, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
		require.EqualValues(t, 1, request.LastMessageID())
	})

	t.Run("wrong one-time password", func(t *testing.T) {
		conn := ts.dial(t)
		request, err := authx.NewTOTPBindRequest("u:john.doe", "", "000000", nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInvalidCredentials, res.Code)
		require.NotEmpty(t, res.DiagnosticMessage)
	})

	t.Run("wrong static password", func(t *testing.T) {
		conn := ts.dial(t)
		code, err := otp.GenerateTOTP(testTOTPSecret, time.Now(), otp.TOTPOptions{})
		require.NoError(t, err)
		request, err := authx.NewTOTPBindRequest("u:john.doe", "", code, []byte("wrong"))
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInvalidCredentials, res.Code)
	})

	t.Run("account without a TOTP secret", func(t *testing.T) {
		conn := ts.dial(t)
		request, err := authx.NewTOTPBindRequest("u:admin", "", "123456", nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInappropriateAuthentication, res.Code)
	})

	t.Run("DN-style authentication ID", func(t *testing.T) {
		conn := ts.dial(t)
		code, err := otp.GenerateTOTP(testTOTPSecret, time.Now(), otp.TOTPOptions{})
		require.NoError(t, err)
		request, err := authx.NewTOTPBindRequest("dn:"+testUserDN, "", code, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
	})

	t.Run("foreign authorization ID refused", func(t *testing.T) {
		conn := ts.dial(t)
		code, err := otp.GenerateTOTP(testTOTPSecret, time.Now(), otp.TOTPOptions{})
		require.NoError(t, err)
		request, err := authx.NewTOTPBindRequest("u:john.doe", "u:admin", code, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultAuthorizationDenied, res.Code)
	})
}

func TestYubiKeyOTPBind(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := ts.dial(t)

	request, err := authx.NewYubiKeyOTPBindRequest("u:john.doe", "", nil, testYubiKeyOTP)
	require.NoError(t, err)

	res, err := request.Process(conn)
	require.NoError(t, err)
	require.True(t, res.Success(), res.Result.String())

	// The verifier rejects a replayed OTP value.
	res, err = request.Duplicate().Process(conn)
	require.NoError(t, err)
	require.Equal(t, authx.ResultInvalidCredentials, res.Code)
}

func TestYubiKeyOTPBindUnregisteredDevice(t *testing.T) {
	ts := startTestServer(t, func(cfg *Config) {
		cfg.YubiKeyVerifier = otp.NewStaticVerifier("vvvvvvvvvvvv")
	})
	conn := ts.dial(t)

	otherDeviceOTP := "vvvvvvvvvvvvdefghijklnrtuvcccccccccccbdefghi"
	request, err := authx.NewYubiKeyOTPBindRequest("u:john.doe", "", nil, otherDeviceOTP)
	require.NoError(t, err)

	res, err := request.Process(conn)
	require.NoError(t, err)
	require.Equal(t, authx.ResultInvalidCredentials, res.Code)
}

func TestCertificatePlusPasswordBindWithoutCertificate(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := ts.dial(t)

	request, err := authx.NewCertificatePlusPasswordBindRequest("secret123")
	require.NoError(t, err)

	res, err := request.Process(conn)
	require.NoError(t, err)
	require.Equal(t, authx.ResultInappropriateAuthentication, res.Code)
	require.NotEmpty(t, res.DiagnosticMessage)
}

func TestExternallyProcessedAuthenticationBind(t *testing.T) {
	ts := startTestServer(t, nil)

	t.Run("privileged session asserts a success", func(t *testing.T) {
		conn := ts.dial(t)
		ts.bindAsAdmin(t, conn)

		passwordBased := true
		request, err := authx.NewExternallyProcessedAuthenticationBindRequest(
			"RADIUS", "u:john.doe", true,
			&authx.ExternallyProcessedAuthenticationProperties{
				PasswordBased:      &passwordBased,
				EndClientIPAddress: "192.0.2.7",
			})
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
	})

	t.Run("privileged session asserts a failure", func(t *testing.T) {
		conn := ts.dial(t)
		ts.bindAsAdmin(t, conn)

		request, err := authx.NewExternallyProcessedAuthenticationBindRequest(
			"RADIUS", "u:john.doe", false,
			&authx.ExternallyProcessedAuthenticationProperties{
				FailureReason: "the RADIUS server rejected the password",
			})
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInvalidCredentials, res.Code)
		require.Contains(t, res.DiagnosticMessage, "the RADIUS server rejected the password")
	})

	t.Run("anonymous session refused", func(t *testing.T) {
		conn := ts.dial(t)
		request, err := authx.NewExternallyProcessedAuthenticationBindRequest(
			"RADIUS", "u:john.doe", true, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInsufficientAccessRights, res.Code)
	})

	t.Run("unprivileged session refused", func(t *testing.T) {
		conn := ts.dial(t)
		res, _, err := conn.SimpleBind(testUserDN, "secret123", nil)
		require.NoError(t, err)
		require.True(t, res.Success())

		request, err := authx.NewExternallyProcessedAuthenticationBindRequest(
			"RADIUS", "u:john.doe", true, nil)
		require.NoError(t, err)

		bindRes, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInsufficientAccessRights, bindRes.Code)
	})
}

func TestOAuthBearerBind(t *testing.T) {
	ts := startTestServer(t, nil)

	t.Run("known token", func(t *testing.T) {
		conn := ts.dial(t)
		request, err := authx.NewStaticOAuthBearerBindRequest(testBearerToken, "", "", 0)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
	})

	t.Run("unknown token", func(t *testing.T) {
		conn := ts.dial(t)
		request, err := authx.NewStaticOAuthBearerBindRequest("forged", "", "", 0)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInvalidCredentials, res.Code)
	})
}

func TestUnknownSASLMechanismRefused(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := ts.dial(t)

	res, _, err := conn.SASLBind("CRAM-MD5", nil, nil)
	require.NoError(t, err)
	require.Equal(t, authx.ResultAuthMethodNotSupported, res.Code)
	require.Contains(t, res.DiagnosticMessage, "CRAM-MD5")
}

func TestDeliverOTP(t *testing.T) {
	t.Run("no preference uses the server order", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)

		request, err := authx.NewDeliverOTPExtendedRequest("u:john.doe", "secret123", nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
		require.Equal(t, "SMS", res.DeliveryMechanism())
		require.Equal(t, "+15551234567", res.RecipientID())
		require.NotEmpty(t, res.Message())

		record, ok := ts.sms.Last()
		require.True(t, ok)
		require.Equal(t, "+15551234567", record.Recipient)
		require.Contains(t, record.Body, "one-time password")
	})

	t.Run("preferred mechanism wins", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)

		request, err := authx.NewDeliverOTPExtendedRequest("u:john.doe", "secret123", []string{"E-Mail", "SMS"})
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
		require.Equal(t, "E-Mail", res.DeliveryMechanism())
		require.Equal(t, "john.doe@example.com", res.RecipientID())

		_, ok := ts.mail.Last()
		require.True(t, ok)
		require.Empty(t, ts.sms.Deliveries())
	})

	t.Run("no usable mechanism", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)

		request, err := authx.NewDeliverOTPExtendedRequest("u:john.doe", "secret123", []string{"Carrier Pigeon"})
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultUnwillingToPerform, res.Code)
		require.NotEmpty(t, res.DiagnosticMessage)
		require.Empty(t, res.DeliveryMechanism())
	})

	t.Run("wrong static password", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)

		request, err := authx.NewDeliverOTPExtendedRequest("u:john.doe", "wrong", nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInvalidCredentials, res.Code)
		require.Empty(t, ts.sms.Deliveries())
		require.Empty(t, ts.mail.Deliveries())
	})
}

func TestDeliverPasswordResetToken(t *testing.T) {
	t.Run("delivered with an assurance control", func(t *testing.T) {
		ts := startTestServer(t, func(cfg *Config) {
			cfg.AssuredReplication = true
			cfg.ReplicationServerID = 42
		})
		conn := ts.dial(t)
		ts.bindAsAdmin(t, conn)

		request, err := authx.NewDeliverPasswordResetTokenExtendedRequest(testUserDN, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
		require.Equal(t, "SMS", res.DeliveryMechanism())

		record, ok := ts.sms.Last()
		require.True(t, ok)
		require.Contains(t, record.Body, "reset token")

		control, err := authx.GetAssuredReplicationResponseControl(&res.Result)
		require.NoError(t, err)
		require.NotNil(t, control)
		require.True(t, control.LocalAssuranceSatisfied)
		require.True(t, control.RemoteAssuranceSatisfied)
		require.NotEmpty(t, control.CSN)
		require.Len(t, control.ServerResults, 1)
		require.Equal(t, authx.ServerResultComplete, control.ServerResults[0].Code)
		require.NotNil(t, control.ServerResults[0].ServerID)
		require.EqualValues(t, 42, *control.ServerResults[0].ServerID)
	})

	t.Run("no control without assured replication", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)
		ts.bindAsAdmin(t, conn)

		request, err := authx.NewDeliverPasswordResetTokenExtendedRequest(testUserDN, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())

		control, err := authx.GetAssuredReplicationResponseControl(&res.Result)
		require.NoError(t, err)
		require.Nil(t, control)
	})

	t.Run("recipient override", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)
		ts.bindAsAdmin(t, conn)

		request, err := authx.NewDeliverPasswordResetTokenExtendedRequest(testUserDN,
			[]authx.PreferredDeliveryMechanism{{Name: "SMS", RecipientID: "+15559990000"}})
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.True(t, res.Success(), res.Result.String())
		require.Equal(t, "+15559990000", res.RecipientID())

		record, ok := ts.sms.Last()
		require.True(t, ok)
		require.Equal(t, "+15559990000", record.Recipient)
	})

	t.Run("unknown user DN", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)
		ts.bindAsAdmin(t, conn)

		request, err := authx.NewDeliverPasswordResetTokenExtendedRequest(
			"uid=nobody,ou=People,"+testBaseDN, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultNoSuchObject, res.Code)
	})

	t.Run("anonymous session refused", func(t *testing.T) {
		ts := startTestServer(t, nil)
		conn := ts.dial(t)

		request, err := authx.NewDeliverPasswordResetTokenExtendedRequest(testUserDN, nil)
		require.NoError(t, err)

		res, err := request.Process(conn)
		require.NoError(t, err)
		require.Equal(t, authx.ResultInsufficientAccessRights, res.Code)
		require.Empty(t, ts.sms.Deliveries())
	})
}

func TestUnknownExtendedOperationRefused(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := ts.dial(t)

	request, err := authx.NewExtendedRequest("1.2.3.4", nil)
	require.NoError(t, err)

	res, err := request.Process(conn)
	require.NoError(t, err)
	require.Equal(t, authx.ResultProtocolError, res.Code)
	require.Contains(t, res.DiagnosticMessage, "1.2.3.4")
}

func TestSearch(t *testing.T) {
	ts := startTestServer(t, nil)

	client, err := ldapv3.DialURL("ldap://" + ts.srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	t.Run("root DSE advertises the server capabilities", func(t *testing.T) {
		result, err := client.Search(ldapv3.NewSearchRequest(
			"", ldapv3.ScopeBaseObject, ldapv3.NeverDerefAliases, 0, 0, false,
			"(objectClass=*)",
			[]string{"supportedSASLMechanisms", "supportedExtension", "supportedControl", "namingContexts"},
			nil))
		require.NoError(t, err)
		require.Len(t, result.Entries, 1)

		rootDSE := result.Entries[0]
		require.Contains(t, rootDSE.GetAttributeValues("namingContexts"), testBaseDN)
		mechanisms := rootDSE.GetAttributeValues("supportedSASLMechanisms")
		require.Contains(t, mechanisms, authx.TOTPMechanismName)
		require.Contains(t, mechanisms, authx.YubiKeyOTPMechanismName)
		require.Contains(t, mechanisms, authx.OAuthBearerMechanismName)
		extensions := rootDSE.GetAttributeValues("supportedExtension")
		require.Contains(t, extensions, authx.DeliverOTPRequestOID)
		require.Contains(t, extensions, authx.DeliverPasswordResetTokenRequestOID)
		require.Contains(t, rootDSE.GetAttributeValues("supportedControl"),
			authx.ControlTypeAssuredReplicationResponse)
	})

	t.Run("subtree search requires authentication", func(t *testing.T) {
		_, err := client.Search(ldapv3.NewSearchRequest(
			testBaseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
			"(objectClass=*)", nil, nil))
		require.Error(t, err)
		require.True(t, ldapv3.IsErrorWithCode(err, ldapv3.LDAPResultInsufficientAccessRights))
	})

	t.Run("filtered user search", func(t *testing.T) {
		require.NoError(t, client.Bind(testAdminDN, "admin-secret"))

		result, err := client.Search(ldapv3.NewSearchRequest(
			"ou=People,"+testBaseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
			"(&(objectClass=inetOrgPerson)(uid=john.doe))",
			[]string{"cn", "mail", "mobile"},
			nil))
		require.NoError(t, err)
		require.Len(t, result.Entries, 1)

		entry := result.Entries[0]
		require.Equal(t, testUserDN, entry.DN)
		require.Equal(t, "John Doe", entry.GetAttributeValue("cn"))
		require.Equal(t, "john.doe@example.com", entry.GetAttributeValue("mail"))
		require.Equal(t, "+15551234567", entry.GetAttributeValue("mobile"))
	})

	t.Run("single level scope", func(t *testing.T) {
		result, err := client.Search(ldapv3.NewSearchRequest(
			"ou=People,"+testBaseDN, ldapv3.ScopeSingleLevel, ldapv3.NeverDerefAliases, 0, 0, false,
			"(objectClass=inetOrgPerson)", []string{"uid"}, nil))
		require.NoError(t, err)
		require.Len(t, result.Entries, 2)
	})

	t.Run("base outside the naming context", func(t *testing.T) {
		_, err := client.Search(ldapv3.NewSearchRequest(
			"dc=elsewhere,dc=net", ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
			"(objectClass=*)", nil, nil))
		require.Error(t, err)
		require.True(t, ldapv3.IsErrorWithCode(err, ldapv3.LDAPResultNoSuchObject))
	})

	t.Run("size limit", func(t *testing.T) {
		result, err := client.Search(ldapv3.NewSearchRequest(
			testBaseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 1, 0, false,
			"(objectClass=inetOrgPerson)", []string{"uid"}, nil))
		require.NoError(t, err)
		require.Len(t, result.Entries, 1)
	})
}

func TestMetrics(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := ts.dial(t)

	res, _, err := conn.SimpleBind(testUserDN, "secret123", nil)
	require.NoError(t, err)
	require.True(t, res.Success())

	request, err := authx.NewDeliverOTPExtendedRequest("u:john.doe", "secret123", nil)
	require.NoError(t, err)
	otpRes, err := request.Process(conn)
	require.NoError(t, err)
	require.True(t, otpRes.Success())

	families, err := ts.srv.Registry().Gather()
	require.NoError(t, err)
	found := make(map[string]bool, len(families))
	for _, family := range families {
		found[family.GetName()] = true
	}
	require.True(t, found["directory_bind_requests_total"])
	require.True(t, found["directory_extended_requests_total"])
	require.True(t, found["directory_deliveries_total"])
	require.True(t, found["directory_active_connections"])
}

func TestUnbindClosesTheSession(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := ts.dial(t)

	require.NoError(t, conn.Unbind())
}

func TestServerConfigValidation(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{name: "missing base DN", cfg: Config{Users: []User{{Username: "a", Password: "b"}}}},
		{name: "missing username", cfg: Config{BaseDN: testBaseDN, Users: []User{{Password: "b"}}}},
		{name: "missing password", cfg: Config{BaseDN: testBaseDN, Users: []User{{Username: "a"}}}},
		{name: "duplicate username", cfg: Config{BaseDN: testBaseDN, Users: []User{
			{Username: "a", Password: "b"},
			{Username: "a", Password: "c"},
		}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			require.Error(t, err)
		})
	}
}
