package utils

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func HashAccessCode(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func CompareAccessCode(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}

// MatchAccessCode accepts either a bcrypt hash or a plain configured code.
// Plain codes are compared in constant time.
func MatchAccessCode(configured string, presented string) bool {
	configured = strings.TrimSpace(configured)
	presented = strings.TrimSpace(presented)
	if configured == "" || presented == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") || strings.HasPrefix(configured, "$2y$") {
		return CompareAccessCode(configured, presented) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
