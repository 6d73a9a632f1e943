package auth

import (
	"context"
	"time"

	"github.com/congo-pay/timevault/internal/config"
	"github.com/congo-pay/timevault/internal/identity"
)

// Service issues and validates token pairs. Bumping a user's token version
// revokes every token issued before it.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues tokens for a user already authenticated by identity.Service.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, _, err := signToken(user.ID, user.Tier, user.TokenVersion, []byte(s.cfg.JWTSecret), s.cfg.AccessTokenTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := signToken(user.ID, user.Tier, user.TokenVersion, []byte(s.cfg.RefreshSecret), s.cfg.RefreshTokenTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	user, err := s.verify(ctx, refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	signed, _, err := signToken(user.ID, user.Tier, user.TokenVersion, []byte(s.cfg.JWTSecret), s.cfg.AccessTokenTTL, s.now())
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Authenticate validates an access token and returns its user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (identity.User, error) {
	return s.verify(ctx, accessToken, s.cfg.JWTSecret)
}

// Logout increments the token version of the refresh token's owner so older
// tokens become invalid.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	user, err := s.verify(ctx, refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) verify(ctx context.Context, token, secret string) (identity.User, error) {
	claims, err := parseToken(token, []byte(secret))
	if err != nil {
		return identity.User{}, err
	}
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}
