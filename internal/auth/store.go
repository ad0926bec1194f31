// Package auth stores users and login sessions in the application database.
// Passwords are bcrypt hashed and only a SHA-256 hash of each session token
// is persisted.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/crypto/bcrypt"

	"sqlagent-backend/internal/db"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrInvalidUsername    = errors.New("username must be 3 to 64 characters")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	PasswordHash string    `json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

type Config struct {
	Logger     *slog.Logger
	DB         *db.Database
	SessionTTL time.Duration

	// CacheTTL bounds how long a validated session is served from memory.
	CacheTTL time.Duration
}

type cachedSession struct {
	user      *User
	expiresAt time.Time
}

type Store struct {
	log   *slog.Logger
	db    *db.Database
	ttl   time.Duration
	cache *ttlcache.Cache[string, cachedSession]
	now   func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		username VARCHAR(64) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role VARCHAR(16) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		expires_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// NewStore creates the users and sessions tables when missing.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("auth database is required")
	}
	switch cfg.DB.Type() {
	case db.DatabaseTypeSQLite, db.DatabaseTypePostgreSQL:
	default:
		return nil, fmt.Errorf("%w for auth store: %s", db.ErrUnsupportedDatabase, cfg.DB.Type())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}

	err := cfg.DB.WithTransaction(ctx, func(tx *db.Transaction) error {
		for _, stmt := range schema {
			if _, err := tx.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate auth tables: %w", err)
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, cachedSession](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, cachedSession](),
	)
	go cache.Start()

	return &Store{
		log:   cfg.Logger,
		db:    cfg.DB,
		ttl:   cfg.SessionTTL,
		cache: cache,
		now:   time.Now,
	}, nil
}

func (s *Store) Close() {
	s.cache.Stop()
}

// Register creates an active user.
func (s *Store) Register(ctx context.Context, username, password string, role Role) (*User, error) {
	username = strings.TrimSpace(username)
	if n := len(username); n < 3 || n > 64 {
		return nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	if role == "" {
		role = RoleUser
	}

	if _, err := s.findUser(ctx, username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrInvalidCredentials) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		IsActive:     true,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
		PasswordHash: string(hash),
	}
	_, err = s.db.Execute(ctx,
		"INSERT INTO users (id, username, password_hash, role, is_active, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		user.ID, user.Username, user.PasswordHash, string(user.Role), user.IsActive, user.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("auth: user registered", "username", username, "role", role)
	return user, nil
}

// EnsureAdmin registers an admin account unless the username is taken.
func (s *Store) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.Register(ctx, username, password, RoleAdmin)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

// Login checks the password and opens a session.
func (s *Store) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.findUser(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	_, err = s.db.Execute(ctx,
		"INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)",
		uuid.NewString(), user.ID, HashToken(token), expiresAt.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Debug("auth: session created", "username", user.Username)
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Authenticate resolves a session token to its user.
func (s *Store) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	hash := HashToken(token)
	now := s.now()

	if item := s.cache.Get(hash); item != nil {
		if cached := item.Value(); now.Before(cached.expiresAt) {
			return cached.user, nil
		}
		s.cache.Delete(hash)
	}

	row, err := s.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.password_hash, u.role, u.is_active, u.created_at, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > $2`,
		hash, now.Unix())
	if errors.Is(err, db.ErrNoRows) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	user, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	expires, _ := row.Values[6].AsInt64()

	s.cache.Set(hash, cachedSession{user: user, expiresAt: time.Unix(expires, 0)}, ttlcache.DefaultTTL)
	return user, nil
}

// Logout deletes the session for token.
func (s *Store) Logout(ctx context.Context, token string) error {
	hash := HashToken(token)
	s.cache.Delete(hash)
	if _, err := s.db.Execute(ctx, "DELETE FROM sessions WHERE token_hash = $1", hash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired removes sessions past their expiry and returns how many were
// deleted.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Execute(ctx, "DELETE FROM sessions WHERE expires_at <= $1", s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected, nil
}

func (s *Store) findUser(ctx context.Context, username string) (*User, error) {
	row, err := s.db.QueryRow(ctx,
		"SELECT id, username, password_hash, role, is_active, created_at FROM users WHERE username = $1",
		username)
	if errors.Is(err, db.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return scanUser(row)
}

func scanUser(row *db.Row) (*User, error) {
	if len(row.Values) < 6 {
		return nil, fmt.Errorf("unexpected user row with %d columns", len(row.Values))
	}

	var user User
	var ok bool
	if user.ID, ok = row.Values[0].AsString(); !ok {
		return nil, fmt.Errorf("failed to parse user ID")
	}
	if user.Username, ok = row.Values[1].AsString(); !ok {
		return nil, fmt.Errorf("failed to parse username")
	}
	if user.PasswordHash, ok = row.Values[2].AsString(); !ok {
		return nil, fmt.Errorf("failed to parse password hash")
	}
	role, ok := row.Values[3].AsString()
	if !ok {
		return nil, fmt.Errorf("failed to parse role")
	}
	user.Role = Role(role)
	if user.IsActive, ok = row.Values[4].AsBool(); !ok {
		return nil, fmt.Errorf("failed to parse active status")
	}
	created, ok := row.Values[5].AsInt64()
	if !ok {
		return nil, fmt.Errorf("failed to parse created date")
	}
	user.CreatedAt = time.Unix(created, 0).UTC()
	return &user, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the stored form of a session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
