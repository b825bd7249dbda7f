package auth

import "time"

// AdminSubject is the token subject issued to the operator
const AdminSubject = "admin"

// UserClaims are the application claims carried in an access token
type UserClaims struct {
	Subject string `json:"sub_name"`
	IsAdmin bool   `json:"is_admin"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// TokenResponse is returned after a successful login
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrAuthDisabled       = AuthError{Code: "AUTH_DISABLED", Message: "authentication is not configured"}
)
