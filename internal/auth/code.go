package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeLength is the number of digits in a validation code.
const CodeLength = 6

// GenerateCode returns a random numeric code of CodeLength digits,
// zero-padded, e.g. "042917".
func GenerateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}
