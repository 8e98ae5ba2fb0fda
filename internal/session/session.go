// Package session provides the tracker's view of the current login: an
// opaque credential to forward on the channel and the local user id. The
// tracker itself never parses or validates the credential.
package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Provider supplies the local user's identity and session credential
type Provider interface {
	// UserID returns the current user's id, or false when logged out
	UserID() (string, bool)
	// Credential returns the opaque session credential, or false when
	// logged out
	Credential() (string, bool)
}

// Static is a fixed-identity provider, used in tests and by hosts that
// manage sessions themselves.
type Static struct {
	ID    string
	Token string
}

func (s Static) UserID() (string, bool) {
	return s.ID, s.ID != ""
}

func (s Static) Credential() (string, bool) {
	return s.Token, s.Token != ""
}

// TokenSource supplies the raw session token, e.g. from the host
// application's credential storage. Returning false means logged out.
type TokenSource func() (string, bool)

// JWTProvider derives the user id from the session token's "sub" claim.
// The token is validated with the shared HMAC secret; an expired or
// malformed token reads as logged out.
type JWTProvider struct {
	source TokenSource
	secret string
	issuer string
}

// NewJWTProvider creates a JWT-backed session provider. issuer is optional;
// when set, tokens from other issuers are rejected.
func NewJWTProvider(source TokenSource, secret, issuer string) *JWTProvider {
	return &JWTProvider{
		source: source,
		secret: secret,
		issuer: issuer,
	}
}

func (p *JWTProvider) Credential() (string, bool) {
	return p.source()
}

func (p *JWTProvider) UserID() (string, bool) {
	tokenString, ok := p.source()
	if !ok {
		return "", false
	}

	userID, err := p.subject(tokenString)
	if err != nil {
		return "", false
	}

	return userID, true
}

// subject parses and validates the token, returning its sub claim
func (p *JWTProvider) subject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	if p.issuer != "" {
		issuer, ok := claims["iss"].(string)
		if !ok || issuer != p.issuer {
			return "", fmt.Errorf("invalid token issuer")
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("missing or invalid user ID in token")
	}

	return sub, nil
}
