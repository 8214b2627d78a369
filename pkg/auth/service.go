package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingServiceToken = errors.New("service token not provided")
	ErrInvalidServiceToken = errors.New("invalid service token")
	ErrTokenNotConfigured  = errors.New("service token not configured")
)

// ValidateServiceToken compares a presented token against the configured one in
// constant time. An empty expected token is a configuration error, never a match.
func ValidateServiceToken(token string, expectedToken string) error {
	if expectedToken == "" {
		return ErrTokenNotConfigured
	}
	if token == "" {
		return ErrMissingServiceToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return ErrInvalidServiceToken
	}
	return nil
}
