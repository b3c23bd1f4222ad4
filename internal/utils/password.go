package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost        = 12
	PairCodeMinLength = 6
)

// HashPairCode hashes the shared pair code both devices use to obtain a token.
func HashPairCode(code string) (string, error) {
	if len(code) < PairCodeMinLength {
		return "", fmt.Errorf("pair code must be at least %d characters long", PairCodeMinLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckPairCode(hashed string, code string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(code))
	return err == nil
}
