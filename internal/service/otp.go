package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var otpSpace = big.NewInt(1000000)

// generateOTP draws a uniform 6-digit code, zero-padded. crypto/rand
// with a rejection-free bound keeps the distribution uniform over the
// full 000000-999999 space.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
