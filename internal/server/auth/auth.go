package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type AuthService struct {
	config *Config
}

func NewAuthService(config *Config) *AuthService {
	return &AuthService{config: config}
}

func (s *AuthService) IsEnabled() bool {
	return s.config.Enabled
}

// IssueToken mints a token for user. expiry overrides the configured one when
// positive.
func (s *AuthService) IssueToken(ctx context.Context, user string, namespace int64, expiry time.Duration) (string, error) {
	if !s.IsEnabled() {
		return "", fmt.Errorf("auth is disabled")
	}
	if expiry <= 0 {
		expiry = s.config.TokenExpiry
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}

	token, err := NewToken(user, namespace, s.config.TokenIssuer, s.config.TokenSecret, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	slog.Debug("auth token issued", "user", user, "namespace", namespace, "expiry", expiry)
	return token, nil
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	claims, err := ParseClaims(accessToken, s.config.TokenSecret, s.config.TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}
