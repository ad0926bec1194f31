package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sqlagent-backend/internal/metrics"
	"sqlagent-backend/internal/tools"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	mcp     *mcp.Server
	handler http.Handler
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "SQL Agent MCP Server",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerPrompts()

	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})

	if cfg.AuthDisabled {
		s.handler = handler
	} else {
		s.handler = s.authMiddleware(handler)
	}
	return s, nil
}

// Handler returns the streamable HTTP endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type callerKey struct{}

// operatorCaller is used for static tokens and when auth is disabled.
var operatorCaller = tools.Caller{UserID: "operator", Admin: true}

func withCaller(ctx context.Context, caller tools.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func callerFrom(ctx context.Context) (tools.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(tools.Caller)
	return caller, ok
}

// caller resolves the tool caller for ctx. Without auth every request acts
// as the operator; otherwise a request that bypassed the middleware gets
// the zero Caller.
func (s *Server) caller(ctx context.Context) tools.Caller {
	if c, ok := callerFrom(ctx); ok {
		return c
	}
	if s.cfg.AuthDisabled {
		return operatorCaller
	}
	return tools.Caller{}
}

// authMiddleware wraps an HTTP handler with Bearer token authentication.
// Static tokens are checked first, then login sessions.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.unauthorized(w, "missing_header", "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.unauthorized(w, "invalid_format", "invalid authorization header format")
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			s.unauthorized(w, "empty_token", "empty token")
			return
		}

		if s.isAllowedToken(token) {
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), operatorCaller)))
			return
		}

		if s.cfg.Sessions != nil {
			user, err := s.cfg.Sessions.Authenticate(r.Context(), token)
			if err == nil {
				caller := tools.Caller{UserID: user.ID, Admin: user.IsAdmin()}
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
				return
			}
			s.log.Debug("mcp/server: session lookup failed", "error", err)
		}

		s.unauthorized(w, "invalid_token", "invalid token")
	})
}

func (s *Server) isAllowedToken(token string) bool {
	for _, allowed := range s.cfg.AllowedTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) unauthorized(w http.ResponseWriter, reason, message string) {
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	w.Header().Set("WWW-Authenticate", `Bearer`)
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := fmt.Fprintf(w, "unauthorized: %s\n", message); err != nil {
		s.log.Error("failed to write auth error response", "error", err)
	}
}
