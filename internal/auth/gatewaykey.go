// Package auth provides authentication primitives for the runtime: gateway
// API key generation/validation and platform session verification. Sessions
// are issued by the platform's identity service, never here; this package
// only verifies them. See internal/gateway/guard for the request-time logic.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// GatewayKeyScheme is the fixed prefix of every gateway API key.
	GatewayKeyScheme = "ngk"

	// GatewayKeyLength is the length of the random part of the key in bytes.
	GatewayKeyLength = 32

	// DisplayPrefixLength is the number of characters stored in plaintext for
	// indexed lookup and display. The prefix alone grants nothing.
	DisplayPrefixLength = 12

	// BcryptCost is the cost factor for bcrypt hashing.
	BcryptCost = 12
)

// GenerateGatewayKey creates a new random gateway API key.
// Returns: full key (to show once), bcrypt hash (to store), display prefix.
func GenerateGatewayKey() (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, GatewayKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullKey := fmt.Sprintf("%s_%s", GatewayKeyScheme, randomPart)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash gateway key: %w", err)
	}

	prefix := fullKey
	if len(fullKey) > DisplayPrefixLength {
		prefix = fullKey[:DisplayPrefixLength]
	}

	return fullKey, string(hashBytes), prefix, nil
}

// KeyPrefix returns the display prefix of a presented key, used for the
// indexed lookup before the bcrypt comparison.
func KeyPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// ValidateGatewayKey checks a presented key against the stored bcrypt hash.
func ValidateGatewayKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
