package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// LoginResult is the identity returned by a successful login
type LoginResult struct {
	ID    int64         `json:"id"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
	Role  workflow.Role `json:"role"`
	Token string        `json:"token,omitempty"`
}

// AuthService resolves users by email and issues their access tokens
type AuthService interface {
	Login(ctx context.Context, email string) (*LoginResult, error)
}

type authServiceImpl struct {
	users  port.UserRepository
	tokens port.TokenIssuer
	logger Logger
}

// NewAuthService creates a new AuthService. With a nil issuer logins return no token.
func NewAuthService(users port.UserRepository, tokens port.TokenIssuer, logger Logger) AuthService {
	return &authServiceImpl{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

// Login looks the user up by email, ignoring case
func (s *authServiceImpl) Login(ctx context.Context, email string) (*LoginResult, error) {
	const op = "login"

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, workflow.Validation(op, "email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, workflow.NotFound(op, "user not found for email: %s", email)
	}

	result := &LoginResult{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}

	if s.tokens != nil {
		token, err := s.tokens.Issue(user.ID, user.Role, user.Email)
		if err != nil {
			s.logger.Error("Failed to issue token", "user_id", user.ID, "error", err)
			return nil, fmt.Errorf("failed to issue token: %w", err)
		}
		result.Token = token
	}

	s.logger.Info("User logged in", "user_id", user.ID, "role", user.Role)
	return result, nil
}
