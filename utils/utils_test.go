package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecretRoundTrip(t *testing.T) {
	hash := HashSecret("super-secret")
	assert.Len(t, hash, 64)
	assert.True(t, VerifySecret("super-secret", hash))
	assert.False(t, VerifySecret("wrong-secret", hash))
}

func TestHMACSHA512RoundTrip(t *testing.T) {
	payload := []byte(`{"event":"charge.success"}`)
	signature := SignHMACSHA512(payload, "key")

	assert.True(t, VerifyHMACSHA512(payload, "key", signature))
	assert.False(t, VerifyHMACSHA512(payload, "other", signature))
	assert.False(t, VerifyHMACSHA512([]byte("tampered"), "key", signature))
}

func TestReferenceFormats(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateTransactionReference(), "TXN-"))
	assert.True(t, strings.HasPrefix(GenerateVerificationReference(), "VER-"))
	assert.True(t, strings.HasPrefix(GeneratePaymentReference(), "PAY_"))

	// References are unique across calls.
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ref := GeneratePaymentReference()
		require.False(t, seen[ref])
		seen[ref] = true
	}
}

func TestGenerateRandomString(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s := GenerateRandomString(32)
		require.Len(t, s, 32)
		for _, c := range s {
			assert.Contains(t, charset, string(c))
		}
		require.False(t, seen[s])
		seen[s] = true
	}

	assert.Empty(t, GenerateRandomString(0))
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "*******8901", MaskIdentifier("12345678901"))
	assert.Equal(t, "***", MaskIdentifier("123"))
	assert.Equal(t, "", MaskIdentifier(""))
}

func TestJWTTokenRoundTrip(t *testing.T) {
	j := NewJWTToken(&Config{SigningKey: "test-signing-key"})

	token, err := j.CreateToken(TokenObject{UserID: 42, Role: "customer"})
	require.NoError(t, err)

	decoded, err := j.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.UserID)
	assert.Equal(t, "customer", decoded.Role)

	_, err = NewJWTToken(&Config{SigningKey: "different-key"}).VerifyToken(token)
	assert.Error(t, err)
}
