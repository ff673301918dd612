package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
)

// HashSecret returns the hex-encoded SHA-256 digest of a credential secret.
// API key secrets are validated on every request, so a fast digest is used
// instead of an adaptive hash.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares a plain secret against its stored digest in
// constant time.
func VerifySecret(secret, storedHash string) bool {
	return hmac.Equal([]byte(HashSecret(secret)), []byte(storedHash))
}

// SignHMACSHA512 produces the hex-encoded HMAC-SHA512 of payload, as used by
// Paystack webhook signatures.
func SignHMACSHA512(payload []byte, key string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA512 checks a hex-encoded HMAC-SHA512 signature in constant
// time.
func VerifyHMACSHA512(payload []byte, key, signature string) bool {
	return hmac.Equal([]byte(SignHMACSHA512(payload, key)), []byte(signature))
}
