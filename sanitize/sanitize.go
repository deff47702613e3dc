// Package sanitize prepares sensitive values for log output. Values are
// either redacted outright or replaced with a deterministic token, so log
// entries about the same account can be correlated without recording the
// value itself.
package sanitize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Redacted replaces values that must not appear in logs in any form.
const Redacted = "{REDACTED}"

// tokenBytes digest bytes are kept per token; enough to make collisions
// between distinct values implausible in log volumes.
const tokenBytes = 16

// Redact returns the redaction placeholder for any non-empty value.
func Redact(value string) string {
	if value == "" {
		return ""
	}
	return Redacted
}

// Tokenizer derives stable tokens for sensitive values. Tokens are HMACs of
// the value under a pepper, so equal values tokenize equally within one
// deployment while the values themselves stay unrecoverable without the
// pepper.
type Tokenizer struct {
	pepper []byte
}

// NewTokenizer creates a tokenizer with the given pepper. The pepper should
// be a random value kept with the server configuration.
func NewTokenizer(pepper []byte) *Tokenizer {
	return &Tokenizer{pepper: append([]byte(nil), pepper...)}
}

// Tokenize returns the token for a value, formatted as "{TOKENIZED:hex}".
// The empty string tokenizes to the empty string.
func (t *Tokenizer) Tokenize(value string) string {
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, t.pepper)
	mac.Write([]byte(value))
	digest := mac.Sum(nil)
	return "{TOKENIZED:" + hex.EncodeToString(digest[:tokenBytes]) + "}"
}
