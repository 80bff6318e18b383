package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature means the signature header does not match the request
// body under the shared secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks an HMAC-SHA256 signature over the raw request body.
// The header carries the hex digest with an optional "sha256=" prefix. The
// comparison is constant time. Verification runs on raw bytes only; parsing
// a payload before verifying it would authenticate something other than what
// was received.
func VerifySignature(body []byte, header, secret string) error {
	if header == "" {
		return ErrInvalidSignature
	}
	provided := strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}
