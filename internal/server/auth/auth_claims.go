package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptySubject = errors.New("empty subject")
)

// Claims carried by a sync token. Subject is the user id, Namespace scopes
// the journal the token may read and write.
type Claims struct {
	Namespace int64 `json:"ns,omitempty"`
	jwt.RegisteredClaims
}

func ParseClaims(tokenString, jwtSecret, issuer string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrEmptySubject)
	}
	return claims, nil
}

// NewToken signs a HS256 token for subject. A zero expiry never expires.
func NewToken(subject string, namespace int64, issuer, jwtSecret string, expiry time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	var expiryTime *jwt.NumericDate
	if expiry != 0 {
		expiryTime = jwt.NewNumericDate(time.Now().Add(expiry))
	}

	claims := Claims{
		Namespace: namespace,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: expiryTime,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
