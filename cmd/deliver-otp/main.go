// Program deliver-otp asks an LDAP server to generate and deliver a
// one-time password for a user over an out-of-band channel, then reports
// which mechanism and recipient the server chose.
// Usage: LDAP_ADDR=127.0.0.1:3893 LDAP_AUTH_ID=u:john.doe LDAP_STATIC_PASSWORD=... go run ./cmd/deliver-otp
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	authx "github.com/christian-2/ldap-authx"
	"github.com/christian-2/ldap-authx/internal/env"
	"github.com/christian-2/ldap-authx/wire"
)

type config struct {
	addr                string
	authenticationID    string
	staticPassword      string
	preferredMechanisms []string
	timeout             time.Duration
}

func main() {
	_ = godotenv.Load()

	log := env.NewLogger()
	cfg, err := loadConfig(&log)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	request, err := authx.NewDeliverOTPExtendedRequest(cfg.authenticationID, cfg.staticPassword, cfg.preferredMechanisms)
	if err != nil {
		log.Error().Err(err).Msg("building the request failed")
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
		log.Error().Err(err).Int32("messageID", request.LastMessageID()).Msg("request failed")
		os.Exit(1)
	}
	if !res.Success() {
		log.Error().
			Stringer("code", res.Code).
			Str("diagnostic", res.DiagnosticMessage).
			Msg("delivery refused")
		os.Exit(1)
	}
	fmt.Printf("one-time password sent via %s to %s\n", res.DeliveryMechanism(), res.RecipientID())
	if res.Message() != "" {
		fmt.Println(res.Message())
	}
	_ = conn.Unbind()
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

	staticPassword, err := env.Require(log, "LDAP_STATIC_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.staticPassword = staticPassword

	for _, name := range strings.Split(env.Get(log, "LDAP_PREFERRED_MECHANISMS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.preferredMechanisms = append(cfg.preferredMechanisms, name)
		}
	}

	timeout, err := env.OptionalDuration(log, "LDAP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.timeout = timeout
	return cfg, nil
}
