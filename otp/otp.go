// Package otp generates and validates the one-time passwords used by the
// TOTP and YubiKey OTP bind mechanisms.
package otp

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GeertJohan/yubigo"
	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPOptions tune time-based OTP generation and validation. The zero value
// uses the common profile: 30 second periods, 6 digits, SHA-1 and one period
// of clock skew in either direction.
type TOTPOptions struct {
	Period uint
	Skew   uint
	Digits potp.Digits
}

func (o TOTPOptions) validateOpts() totp.ValidateOpts {
	opts := totp.ValidateOpts{
		Period:    o.Period,
		Skew:      o.Skew,
		Digits:    o.Digits,
		Algorithm: potp.AlgorithmSHA1,
	}
	if opts.Period == 0 {
		opts.Period = 30
	}
	if opts.Skew == 0 {
		opts.Skew = 1
	}
	if opts.Digits == 0 {
		opts.Digits = potp.DigitsSix
	}
	return opts
}

// GenerateTOTP computes the TOTP password for a base32 shared secret at the
// given time.
func GenerateTOTP(secret string, at time.Time, opts TOTPOptions) (string, error) {
	return totp.GenerateCodeCustom(secret, at, opts.validateOpts())
}

// ValidateTOTP reports whether passcode is the TOTP password for a base32
// shared secret at the given time, within the configured skew.
func ValidateTOTP(passcode, secret string, at time.Time, opts TOTPOptions) (bool, error) {
	return totp.ValidateCustom(passcode, secret, at, opts.validateOpts())
}

// A YubiKey OTP is 44 modhex characters; the first 12 identify the device.
const (
	yubiKeyOTPLength      = 44
	yubiKeyPublicIDLength = 12

	modhexAlphabet = "cbdefghijklnrtuv"
)

// IsWellFormedYubiKeyOTP reports whether otp has the length and alphabet of
// a YubiKey OTP. It does not verify the OTP with a validation service.
func IsWellFormedYubiKeyOTP(otp string) bool {
	if len(otp) != yubiKeyOTPLength {
		return false
	}
	for _, r := range otp {
		if !strings.ContainsRune(modhexAlphabet, r) {
			return false
		}
	}
	return true
}

// YubiKeyPublicID extracts the device identifier from a YubiKey OTP.
func YubiKeyPublicID(otp string) (string, error) {
	if !IsWellFormedYubiKeyOTP(otp) {
		return "", fmt.Errorf("otp: %q is not a well-formed YubiKey OTP", otp)
	}
	return otp[:yubiKeyPublicIDLength], nil
}

// YubiKeyVerifier checks a YubiKey OTP with a validation service.
type YubiKeyVerifier interface {
	VerifyOTP(otp string) (bool, error)
}

// YubiCloudVerifier verifies OTPs against the YubiCloud validation service.
type YubiCloudVerifier struct {
	auth *yubigo.YubiAuth
}

// NewYubiCloudVerifier creates a verifier with YubiCloud API credentials.
func NewYubiCloudVerifier(clientID, secretKey string) (*YubiCloudVerifier, error) {
	auth, err := yubigo.NewYubiAuth(clientID, secretKey)
	if err != nil {
		return nil, fmt.Errorf("otp: creating YubiCloud verifier: %w", err)
	}
	return &YubiCloudVerifier{auth: auth}, nil
}

// VerifyOTP reports whether the validation service accepted the OTP.
// yubigo folds rejections into its error return, so only the ok flag
// distinguishes a valid OTP.
func (v *YubiCloudVerifier) VerifyOTP(otp string) (bool, error) {
	if !IsWellFormedYubiKeyOTP(otp) {
		return false, nil
	}
	_, ok, _ := v.auth.Verify(otp)
	return ok, nil
}

// StaticVerifier accepts well-formed OTPs from a fixed set of device public
// IDs, rejecting replays. It stands in for the YubiCloud service in tests.
type StaticVerifier struct {
	mu      sync.Mutex
	devices map[string]bool
	seen    map[string]bool
}

// NewStaticVerifier creates a verifier accepting OTPs from the given device
// public IDs.
func NewStaticVerifier(publicIDs ...string) *StaticVerifier {
	devices := make(map[string]bool, len(publicIDs))
	for _, id := range publicIDs {
		devices[id] = true
	}
	return &StaticVerifier{devices: devices, seen: make(map[string]bool)}
}

// VerifyOTP accepts an OTP once per value when its device is known.
func (v *StaticVerifier) VerifyOTP(otp string) (bool, error) {
	publicID, err := YubiKeyPublicID(otp)
	if err != nil {
		return false, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.devices[publicID] || v.seen[otp] {
		return false, nil
	}
	v.seen[otp] = true
	return true, nil
}
