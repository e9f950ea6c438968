package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const offlineCodeDigits = 8

// newEnrollmentToken returns a single-use token embedded in the QR payload.
func newEnrollmentToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate enrollment token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// newOfflineCode returns a fixed-width numeric code the customer can type
// into a locked device without network.
func newOfflineCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(offlineCodeDigits), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate offline code: %w", err)
	}
	return fmt.Sprintf("%0*d", offlineCodeDigits, n), nil
}

func newOfflinePair() (lock, unlock string, err error) {
	if lock, err = newOfflineCode(); err != nil {
		return "", "", err
	}
	for {
		if unlock, err = newOfflineCode(); err != nil {
			return "", "", err
		}
		if unlock != lock {
			return lock, unlock, nil
		}
	}
}
