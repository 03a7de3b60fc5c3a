// ABOUTME: Non-authoritative token inspection used only for log attribution
// ABOUTME: Reads the unverified JWT subject and derives a short fingerprint

package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
)

// Subject returns the "sub" claim of a JWT without verifying its signature or
// expiry. Returns "" for opaque tokens. Never use the result to authorize.
func Subject(tokenString string) string {
	if tokenString == "" {
		return ""
	}
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Fingerprint returns the first 12 hex characters of the token's SHA-256.
func Fingerprint(tokenString string) string {
	if tokenString == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])[:12]
}
