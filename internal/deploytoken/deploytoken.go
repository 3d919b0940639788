// Package deploytoken issues and validates the short-lived bearer
// tokens handed out for agent installer downloads. Unlike the agent's
// own long-lived auth token, these are stateless signed JWTs: a
// 24h-expiry HS256 token needs no database round trip to verify.
package deploytoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 24 * time.Hour

// Claims ties a token to the deployment_templates row it was issued
// for, so a download handler can look up the install script it names.
type Claims struct {
	TemplateID string `json:"templateId"`
	jwt.RegisteredClaims
}

// Issuer signs and validates deployment tokens with a shared secret.
type Issuer struct {
	secret []byte
}

func New(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// Issue signs a token scoped to templateID, valid for defaultTTL.
func (i *Issuer) Issue(templateID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		TemplateID: templateID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pankha",
			Subject:   templateID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate verifies signature and expiry, returning the template id.
func (i *Issuer) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid deploy token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid deploy token")
	}
	return claims.TemplateID, nil
}
