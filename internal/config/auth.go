package config

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey returns the bcrypt hash to store in auth.api_key_hash.
func HashAPIKey(key string) (string, error) {
	if len(key) < 16 {
		return "", errors.New("api key must be at least 16 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Enabled reports whether API requests must carry a key.
func (a AuthConfig) Enabled() bool {
	return a.APIKeyHash != ""
}

// Verify checks key against the stored hash.
func (a AuthConfig) Verify(key string) bool {
	if a.APIKeyHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.APIKeyHash), []byte(key)) == nil
}

// Lockout is how long a client stays locked out after too many bad keys.
func (a AuthConfig) Lockout() time.Duration {
	return time.Duration(a.LockoutDuration) * time.Second
}
