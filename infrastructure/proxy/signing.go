package proxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signature headers set on signed HTTP tool requests.
const (
	HeaderSignature   = "X-APL-Signature"
	HeaderTimestamp   = "X-APL-Timestamp"
	HeaderSignatureV2 = "X-APL-Signature-V2"
)

// Signer signs request bodies sent to HTTP tool endpoints so the receiving
// service can authenticate the runtime.
type Signer struct{}

// Sign returns "sha256=<hex hmac>" of payload.
func (Signer) Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func (s Signer) Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(s.Sign(payload, secret)), []byte(signature))
}

// Headers returns the signature headers for payload at timestamp. The V2
// signature covers "<unix>.<payload>" to bound replays.
func (s Signer) Headers(payload []byte, secret string, timestamp time.Time) map[string]string {
	ts := fmt.Sprintf("%d", timestamp.Unix())
	return map[string]string{
		HeaderSignature:   s.Sign(payload, secret),
		HeaderTimestamp:   ts,
		HeaderSignatureV2: s.Sign([]byte(ts+"."+string(payload)), secret),
	}
}

// VerifyTimestamped checks a V2 signature and that timestamp lies within
// tolerance of now.
func (s Signer) VerifyTimestamped(payload []byte, secret, signature string, timestamp int64, now time.Time, tolerance time.Duration) bool {
	t := now.Unix()
	if timestamp < t-int64(tolerance.Seconds()) || timestamp > t+int64(tolerance.Seconds()) {
		return false
	}
	expected := s.Sign([]byte(fmt.Sprintf("%d.%s", timestamp, payload)), secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
