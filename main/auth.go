package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sqlagent-backend/internal/auth"
)

const sessionCookie = "session_token"

// anonymousUser stands in for the caller when authentication is disabled.
var anonymousUser = &auth.User{ID: "anonymous", Username: "anonymous", Role: auth.RoleAdmin, IsActive: true}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	User      *auth.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt int64      `json:"expires_at"`
}

func (app *App) registerHandler(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	user, err := app.Auth.Register(c.Request.Context(), req.Username, req.Password, auth.RoleUser)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		app.log.Error("auth: registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    user,
		"message": "Registration successful",
	})
}

func (app *App) loginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	session, err := app.Auth.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	case errors.Is(err, auth.ErrInactiveUser):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User account is inactive"})
		return
	case err != nil:
		app.log.Error("auth: login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	maxAge := int(app.Config.Auth.SessionTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, session.Token, maxAge, "/", "", false, true)
	c.JSON(http.StatusOK, LoginResponse{
		User:      session.User,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
}

func (app *App) logoutHandler(c *gin.Context) {
	if token := requestToken(c); token != "" {
		if err := app.Auth.Logout(c.Request.Context(), token); err != nil {
			app.log.Error("auth: logout failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
			return
		}
	}

	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func (app *App) profileHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": currentUser(c)})
}

// requestToken reads the session token from a Bearer header or the
// session cookie.
func requestToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	token, _ := c.Cookie(sessionCookie)
	return token
}

func (app *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if app.Config.Auth.Disabled {
			c.Set("user", anonymousUser)
			c.Next()
			return
		}

		token := requestToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No session found"})
			c.Abort()
			return
		}

		user, err := app.Auth.Authenticate(c.Request.Context(), token)
		switch {
		case errors.Is(err, auth.ErrInvalidSession):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			c.Abort()
			return
		case errors.Is(err, auth.ErrInactiveUser):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User account is inactive"})
			c.Abort()
			return
		case err != nil:
			app.log.Error("auth: session lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check session"})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// adminMiddleware must run after authMiddleware.
func (app *App) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := currentUser(c); user == nil || !user.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *auth.User {
	if v, ok := c.Get("user"); ok {
		user, _ := v.(*auth.User)
		return user
	}
	return nil
}
