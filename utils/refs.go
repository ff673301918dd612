package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Reference prefixes per record family. Kept stable because downstream
// reconciliation tooling matches on them.
const (
	txnRefPrefix = "TXN"
	verRefPrefix = "VER"
	payRefPrefix = "PAY"
)

func randomToken(length int) string {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for reference generation
		panic(fmt.Sprintf("could not read random bytes: %v", err))
	}
	return strings.ToUpper(hex.EncodeToString(b))[:length]
}

// GenerateTransactionReference returns a unique ledger reference, e.g.
// TXN-3F9A21BC-1717171717.
func GenerateTransactionReference() string {
	return fmt.Sprintf("%s-%s-%d", txnRefPrefix, randomToken(8), time.Now().Unix())
}

// GenerateVerificationReference returns a unique verification request
// reference, e.g. VER-A01B23CD-1717171717.
func GenerateVerificationReference() string {
	return fmt.Sprintf("%s-%s-%d", verRefPrefix, randomToken(8), time.Now().Unix())
}

// GeneratePaymentReference returns a unique gateway payment reference,
// e.g. PAY_6B29FC40CA2E1A3B4C5D.
func GeneratePaymentReference() string {
	return fmt.Sprintf("%s_%s", payRefPrefix, randomToken(20))
}
