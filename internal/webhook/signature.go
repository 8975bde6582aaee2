// Package webhook authenticates inbound provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Mode selects what the provider signed.
type Mode int

const (
	// ModeBody signs the raw body alone (provider A).
	ModeBody Mode = iota
	// ModeBodyDate signs the raw body concatenated with the Date header
	// value (provider B).
	ModeBodyDate
)

// Verify checks an HMAC-SHA256 signature over the raw request body. The
// claimed signature may be a bare hex digest or carry a "sha256=" prefix.
// Verification fails closed: an empty secret, an empty signature, or a
// required-but-missing date all reject. The comparison is constant time.
func Verify(body []byte, signature, date, secret string, mode Mode) bool {
	if secret == "" || signature == "" {
		return false
	}
	if mode == ModeBodyDate && date == "" {
		return false
	}

	claimed := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if mode == ModeBodyDate {
		mac.Write([]byte(date))
	}
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(claimed)), []byte(expected))
}
