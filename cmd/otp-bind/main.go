// Program otp-bind connects to an LDAP server and authenticates with a
// one-time password: TOTP from a shared secret or a precomputed code, or a
// YubiKey OTP.
// Usage: LDAP_ADDR=127.0.0.1:3893 LDAP_AUTH_ID=u:john.doe LDAP_TOTP_SECRET=... go run ./cmd/otp-bind
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	authx "github.com/christian-2/ldap-authx"
	"github.com/christian-2/ldap-authx/internal/env"
	"github.com/christian-2/ldap-authx/otp"
	"github.com/christian-2/ldap-authx/wire"
)

type config struct {
	addr             string
	authenticationID string
	authorizationID  string
	totpSecret       string
	totpCode         string
	staticPassword   string
	yubiKeyOTP       string
	timeout          time.Duration
}

func main() {
	_ = godotenv.Load()

	log := env.NewLogger()
	cfg, err := loadConfig(&log)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	request, err := buildRequest(cfg)
	if err != nil {
		log.Error().Err(err).Msg("building the bind request failed")
		os.Exit(1)
	}

	conn, err := wire.Dial("tcp", cfg.addr, wire.Config{Timeout: cfg.timeout, Logger: log})
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.addr).Msg("connecting failed")
		os.Exit(1)
	}
	defer conn.Close()

	res, err := request.Process(conn)
	if err != nil {
		log.Error().Err(err).Int32("messageID", request.LastMessageID()).Msg("bind failed")
		os.Exit(1)
	}
	if !res.Success() {
		log.Error().
			Stringer("code", res.Code).
			Str("diagnostic", res.DiagnosticMessage).
			Msg("bind rejected")
		os.Exit(1)
	}
	fmt.Printf("bind: success (%s as %s)\n", request.SASLMechanismName(), cfg.authenticationID)
	_ = conn.Unbind()
}

// buildRequest picks the mechanism from the configuration: a YubiKey OTP
// when one is set, otherwise TOTP with the given or a freshly generated code.
func buildRequest(cfg *config) (authx.BindRequest, error) {
	var staticPassword []byte
	if cfg.staticPassword != "" {
		staticPassword = []byte(cfg.staticPassword)
	}
	if cfg.yubiKeyOTP != "" {
		return authx.NewYubiKeyOTPBindRequest(cfg.authenticationID, cfg.authorizationID, staticPassword, cfg.yubiKeyOTP)
	}
	code := cfg.totpCode
	if code == "" {
		generated, err := otp.GenerateTOTP(cfg.totpSecret, time.Now(), otp.TOTPOptions{})
		if err != nil {
			return nil, err
		}
		code = generated
	}
	return authx.NewTOTPBindRequest(cfg.authenticationID, cfg.authorizationID, code, staticPassword)
}

func loadConfig(log *zerolog.Logger) (*config, error) {
	cfg := &config{}

	addr, err := env.Require(log, "LDAP_ADDR")
	if err != nil {
		return nil, err
	}
	cfg.addr = addr

	authenticationID, err := env.Require(log, "LDAP_AUTH_ID")
	if err != nil {
		return nil, err
	}
	cfg.authenticationID = authenticationID

	cfg.authorizationID = env.Get(log, "LDAP_AUTHZ_ID")
	cfg.totpSecret = env.Get(log, "LDAP_TOTP_SECRET")
	cfg.totpCode = env.Get(log, "LDAP_TOTP_CODE")
	cfg.staticPassword = env.Get(log, "LDAP_STATIC_PASSWORD")
	cfg.yubiKeyOTP = env.Get(log, "LDAP_YUBIKEY_OTP")
	if cfg.yubiKeyOTP == "" && cfg.totpSecret == "" && cfg.totpCode == "" {
		return nil, fmt.Errorf("set LDAP_TOTP_SECRET, LDAP_TOTP_CODE or LDAP_YUBIKEY_OTP")
	}

	timeout, err := env.OptionalDuration(log, "LDAP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.timeout = timeout
	return cfg, nil
}
