package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sqlagent-backend/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := db.Connect(t.Context(), db.ConnectionConfig{ConnectionString: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewStore(t.Context(), Config{DB: database, SessionTTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStore_RegisterAndLogin(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	user, err := store.Register(ctx, "alice", "123456", "")
	require.NoError(t, err)
	require.Equal(t, RoleUser, user.Role)
	require.True(t, user.IsActive)
	require.NotEqual(t, "123456", user.PasswordHash)

	_, err = store.Register(ctx, "alice", "654321", RoleUser)
	require.ErrorIs(t, err, ErrUserExists)

	_, err = store.Login(ctx, "alice", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.Login(ctx, "nobody", "123456")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	session, err := store.Login(ctx, "alice", "123456")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	require.Equal(t, user.ID, session.User.ID)

	got, err := store.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, user.CreatedAt, got.CreatedAt)

	require.NoError(t, store.Logout(ctx, session.Token))
	_, err = store.Authenticate(ctx, session.Token)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestStore_RegisterValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Register(t.Context(), "ab", "123456", RoleUser)
	require.ErrorIs(t, err, ErrInvalidUsername)

	_, err = store.Register(t.Context(), "alice", "123", RoleUser)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestStore_SessionExpiry(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	_, err := store.Register(ctx, "bob", "123456", RoleUser)
	require.NoError(t, err)
	session, err := store.Login(ctx, "bob", "123456")
	require.NoError(t, err)

	_, err = store.Authenticate(ctx, session.Token)
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = store.Authenticate(ctx, session.Token)
	require.ErrorIs(t, err, ErrInvalidSession)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
}

func TestStore_EnsureAdmin(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.EnsureAdmin(ctx, "admin", "123456"))
	require.NoError(t, store.EnsureAdmin(ctx, "admin", "other-password"))

	session, err := store.Login(ctx, "admin", "123456")
	require.NoError(t, err)
	require.True(t, session.User.IsAdmin())
}

func TestStore_AuthenticateUnknownToken(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Authenticate(t.Context(), "")
	require.ErrorIs(t, err, ErrInvalidSession)

	_, err = store.Authenticate(t.Context(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewStore_RequiresDatabase(t *testing.T) {
	t.Parallel()

	_, err := NewStore(t.Context(), Config{})
	require.Error(t, err)
}
