package hash

import (
	"errors"
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Cost is the bcrypt work factor for admin passwords.
	Cost = 12

	// MinLength applies both when hashing and when grading strength.
	MinLength = 8

	// minStrength is the lowest accepted zxcvbn score (0-4).
	minStrength = 3
)

var (
	ErrTooShort     = fmt.Errorf("password must be at least %d characters", MinLength)
	ErrWeakPassword = errors.New("password is too easy to guess")
)

func Hash(password string) (string, error) {
	if len(password) < MinLength {
		return "", ErrTooShort
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hashedBytes), nil
}

func Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// CheckStrength rejects passwords an attacker would guess quickly.
// userInputs are account facts (email, username) the password must not
// lean on.
func CheckStrength(password string, userInputs ...string) error {
	if len(password) < MinLength {
		return ErrTooShort
	}
	if zxcvbn.PasswordStrength(password, userInputs).Score < minStrength {
		return ErrWeakPassword
	}
	return nil
}
