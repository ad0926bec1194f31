package server

import (
	"context"
	"fmt"
	"log/slog"

	"sqlagent-backend/internal/auth"
	"sqlagent-backend/internal/tools"
)

// SessionAuthenticator resolves a login session token to its user.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.User, error)
}

type Config struct {
	Logger   *slog.Logger
	Registry *tools.Registry

	// Sessions lets logged-in users reach the endpoint with their session token.
	Sessions SessionAuthenticator

	Version       string
	Dialect       string // default for the dialect argument of text2sqlPrompt
	AllowedTokens []string // Bearer tokens accepted without a login session
	AuthDisabled  bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("tool registry is required")
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Dialect == "" {
		c.Dialect = "MySQL"
	}
	if !c.AuthDisabled && c.Sessions == nil && len(c.AllowedTokens) == 0 {
		return fmt.Errorf("allowed tokens or a session authenticator are required unless auth is disabled")
	}
	return nil
}
