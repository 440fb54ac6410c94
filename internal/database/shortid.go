package database

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShortIDLength is the length of the random part of a short id.
const ShortIDLength = 15

// ShortID returns prefix followed by ShortIDLength random alphanumerics.
// Documents use it for their primary key ("doc_" prefix).
func ShortID(prefix string) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + ShortIDLength)
	sb.WriteString(prefix)

	n := big.NewInt(int64(len(shortIDAlphabet)))
	for range ShortIDLength {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			idx = big.NewInt(0)
		}
		sb.WriteByte(shortIDAlphabet[idx.Int64()])
	}
	return sb.String()
}
