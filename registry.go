package authx

import (
	"sort"
	"sync"
)

// MechanismDecoder decodes a raw SASL credentials payload for one mechanism.
// The concrete type of the returned value depends on the mechanism: the
// tagged-sequence mechanisms return their *XxxBindRequest type and
// OAUTHBEARER returns *OAuthBearerCredentials.
type MechanismDecoder func(credentials []byte) (any, error)

var mechanismRegistry = struct {
	sync.RWMutex
	decoders map[string]MechanismDecoder
}{
	decoders: make(map[string]MechanismDecoder),
}

// RegisterMechanism makes decoder available under the given SASL mechanism
// name, replacing any previous registration for that name. The mechanisms of
// this package are registered at init time; servers built on the directory
// package use the registry to dispatch SASL binds.
func RegisterMechanism(name string, decoder MechanismDecoder) {
	mechanismRegistry.Lock()
	defer mechanismRegistry.Unlock()
	mechanismRegistry.decoders[name] = decoder
}

// LookupMechanism returns the registered decoder for a SASL mechanism name.
func LookupMechanism(name string) (MechanismDecoder, bool) {
	mechanismRegistry.RLock()
	defer mechanismRegistry.RUnlock()
	decoder, ok := mechanismRegistry.decoders[name]
	return decoder, ok
}

// SASLMechanisms returns the registered mechanism names in sorted order.
func SASLMechanisms() []string {
	mechanismRegistry.RLock()
	defer mechanismRegistry.RUnlock()
	names := make([]string, 0, len(mechanismRegistry.decoders))
	for name := range mechanismRegistry.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterMechanism(TOTPMechanismName, func(credentials []byte) (any, error) {
		return DecodeTOTPBindRequestCredentials(credentials)
	})
	RegisterMechanism(YubiKeyOTPMechanismName, func(credentials []byte) (any, error) {
		return DecodeYubiKeyOTPBindRequestCredentials(credentials)
	})
	RegisterMechanism(CertificatePlusPasswordMechanismName, func(credentials []byte) (any, error) {
		return DecodeCertificatePlusPasswordBindRequestCredentials(credentials)
	})
	RegisterMechanism(ExternallyProcessedAuthenticationMechanismName, func(credentials []byte) (any, error) {
		return DecodeExternallyProcessedAuthenticationBindRequestCredentials(credentials)
	})
	RegisterMechanism(OAuthBearerMechanismName, func(credentials []byte) (any, error) {
		return DecodeOAuthBearerCredentials(credentials)
	})
}
