package licensing

import (
	"crypto/rand"
	"math/big"
)

const (
	PrefixPaid = "LIC-"
	PrefixFree = "FREE-"

	keyLength = 8
	alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var alphabetSize = big.NewInt(int64(len(alphabet)))

// NewKey returns prefix followed by 8 uniformly random base36 characters.
func NewKey(prefix string) (string, error) {
	b := make([]byte, keyLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return prefix + string(b), nil
}
