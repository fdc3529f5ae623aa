package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided access token has expired.
	ErrTokenExpired = errors.New("auth: access token expired")
	// ErrTokenInvalid signals that the provided access token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: access token invalid")
)

// Claims is the decoded payload of a verified access token.
type Claims struct {
	Subject string
	Email   string
	Claims  map[string]any
}

// TokenVerifier verifies bearer access tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Claims, error)
}

// HSVerifier validates HMAC-signed JWTs issued by the identity service.
type HSVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHSVerifier constructs a verifier for HS256 tokens. Issuer and audience
// are only enforced when non-empty.
func NewHSVerifier(secret []byte, issuer, audience string) (*HSVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	return &HSVerifier{secret: secret, issuer: strings.TrimSpace(issuer), audience: strings.TrimSpace(audience)}, nil
}

// VerifyToken parses and validates the token signature and registered claims.
func (v *HSVerifier) VerifyToken(_ context.Context, tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %q", ErrTokenInvalid, token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}

	if v.issuer != "" && !mapClaims.VerifyIssuer(v.issuer, true) {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !mapClaims.VerifyAudience(v.audience, true) {
		return Claims{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := mapClaims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	email, _ := mapClaims["email"].(string)

	return Claims{
		Subject: subject,
		Email:   strings.TrimSpace(email),
		Claims:  map[string]any(mapClaims),
	}, nil
}
