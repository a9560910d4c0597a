package store

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashCredentials returns the bcrypt hash of creds.Key for storage alongside a partition.
// A cost of 0 uses bcrypt.DefaultCost.
func HashCredentials(creds Credentials, cost int) ([]byte, error) {
	if creds.Key == "" {
		return nil, ErrInvalidCredentials
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Key), cost)
	if err != nil {
		return nil, fmt.Errorf("hash credentials: %w", err)
	}
	return hash, nil
}

// VerifyCredentials checks creds against a hash produced by HashCredentials.
// Returns ErrInvalidCredentials on mismatch.
func VerifyCredentials(hash []byte, creds Credentials) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Key))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return fmt.Errorf("verify credentials: %w", err)
}
