package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes; longer passwords are refused instead.
const maxPasswordBytes = 72

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(password) > maxPasswordBytes {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// passwordMatches reports whether password opens user's hash. A nil user
// still pays for one bcrypt comparison so unknown usernames take as long as
// wrong passwords.
func passwordMatches(user *User, password string) bool {
	if user == nil || user.PasswordHash == "" {
		dummyOnce.Do(func() {
			dummyHash, _ = bcrypt.GenerateFromPassword([]byte("nasmusic-dummy"), bcrypt.DefaultCost)
		})
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}
