// Package credentials generates initial passwords for newly approved
// accounts.
package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	alphabet       = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	passwordLength = 8
)

// NewPassword returns a random alphanumeric password. The alphabet skips
// visually ambiguous characters since users retype these by hand.
func NewPassword() (string, error) {
	buf := make([]byte, passwordLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
