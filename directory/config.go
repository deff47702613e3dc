// Package directory runs a small in-process LDAP server for exercising the
// bind mechanisms and extended operations in this module end to end. It
// serves a fixed set of users, dispatches SASL binds through the mechanism
// registry and delivers one-time passwords and reset tokens through
// configurable delivery mechanisms.
package directory

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/christian-2/ldap-authx/delivery"
	"github.com/christian-2/ldap-authx/otp"
)

// User is one account served by the directory.
type User struct {
	Username string

	// Password is the static password in the clear; it is hashed when the
	// server is created and not retained.
	Password string

	GivenName string
	Surname   string
	Mail      string
	Mobile    string

	// TOTPSecret is the base32 shared secret for TOTP binds. Empty
	// disables the mechanism for this account.
	TOTPSecret string

	// YubiKeyIDs lists the device public IDs registered for this account.
	YubiKeyIDs []string

	// Privileged accounts may submit externally processed authentication
	// binds on behalf of other accounts.
	Privileged bool
}

// Config describes the directory a Server serves.
type Config struct {
	// Addr is the listen address. Empty picks a loopback address with an
	// ephemeral port.
	Addr string

	// BaseDN is the naming context, such as "dc=example,dc=com". User
	// entries live under "ou=People,<BaseDN>".
	BaseDN string

	Users []User

	// Mechanisms are the delivery channels for one-time passwords and
	// reset tokens, in server preference order. Mechanisms named "SMS"
	// deliver to the mobile number and mechanisms named "E-Mail" to the
	// mail address.
	Mechanisms []delivery.Mechanism

	// YubiKeyVerifier validates YubiKey OTPs. Nil disables the
	// UNBOUNDID-YUBIKEY-OTP mechanism.
	YubiKeyVerifier otp.YubiKeyVerifier

	// TOTP tunes TOTP validation. The zero value uses the common
	// profile.
	TOTP otp.TOTPOptions

	// BearerTokens maps accepted OAUTHBEARER access tokens to the
	// usernames they authenticate.
	BearerTokens map[string]string

	// LogPepper keys the tokenizer that sanitizes identifiers in logs.
	LogPepper []byte

	// AssuredReplication attaches an assured replication response
	// control to password reset token responses.
	AssuredReplication bool

	// ReplicationServerID identifies this server in assured replication
	// controls.
	ReplicationServerID int16

	Logger zerolog.Logger

	// Registry receives the server metrics. Nil creates a private
	// registry, which keeps multiple servers in one process apart.
	Registry *prometheus.Registry
}

func (cfg *Config) validate() error {
	if cfg.BaseDN == "" {
		return fmt.Errorf("directory: a base DN is required")
	}
	seen := make(map[string]bool, len(cfg.Users))
	for _, user := range cfg.Users {
		if user.Username == "" {
			return fmt.Errorf("directory: every user requires a username")
		}
		if user.Password == "" {
			return fmt.Errorf("directory: user %q requires a password", user.Username)
		}
		if seen[user.Username] {
			return fmt.Errorf("directory: duplicate username %q", user.Username)
		}
		seen[user.Username] = true
	}
	return nil
}
