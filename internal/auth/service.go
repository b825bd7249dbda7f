package auth

import (
	"market-signal-engine/config"
	"market-signal-engine/internal/logging"
)

// Service authenticates the operator. Auth is off when disabled in config
// and every caller is then treated as admin.
type Service struct {
	enabled      bool
	passwordHash string
	jwt          *JWTManager
	logger       *logging.Logger
}

// NewService creates the auth service from configuration
func NewService(cfg config.AuthConfig) *Service {
	s := &Service{
		enabled:      cfg.Enabled,
		passwordHash: cfg.AdminPasswordHash,
		jwt:          NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration),
		logger:       logging.WithComponent("auth"),
	}
	if s.enabled && (cfg.JWTSecret == "" || cfg.AdminPasswordHash == "") {
		s.logger.Warn("Auth enabled without a JWT secret or admin password hash; logins will fail")
	}
	return s
}

// Enabled reports whether admin actions require a token
func (s *Service) Enabled() bool {
	return s.enabled
}

// JWT returns the token manager
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login checks the admin password and issues an access token
func (s *Service) Login(password string) (*TokenResponse, error) {
	if !s.enabled || len(s.jwt.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	if !VerifyPassword(password, s.passwordHash) {
		s.logger.Warn("Admin login rejected")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(UserClaims{Subject: AdminSubject, IsAdmin: true})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Admin login succeeded")

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		ExpiresAt:   expiresAt.UTC(),
	}, nil
}
