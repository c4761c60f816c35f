// Package signing implements the HMAC helper behind signed verdict links,
// so notification emails can deep-link a verdict without a session.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for a submission id and expiry.
func (s *Signer) Sign(submissionID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", submissionID, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one using a
// constant-time comparison.
func (s *Signer) Validate(submissionID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(submissionID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
