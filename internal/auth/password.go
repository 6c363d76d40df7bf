package auth

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted for hashing.
const MinPasswordLength = 6

// DefaultBcryptCost is the production hashing cost.
const DefaultBcryptCost = 12

// ErrPasswordTooShort is returned when a password is below MinPasswordLength.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

var bcryptCost atomic.Int64

func init() {
	bcryptCost.Store(DefaultBcryptCost)
}

// SetBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func SetBcryptCost(cost int) {
	bcryptCost.Store(int64(cost))
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), int(bcryptCost.Load()))
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. A malformed hash is
// treated as a mismatch.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
