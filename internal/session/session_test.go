package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlog "gorm.io/gorm/logger"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/models"
	"github.com/prepline/backend/internal/storage"
	"github.com/prepline/backend/internal/token"
	"github.com/prepline/backend/testdata"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gormw.Open(&gormw.Config{
		LogLevel: gormlog.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	tokens := token.NewService(&token.Config{
		PrivateKeyPEM:   testdata.PrivateKeyPEM,
		Issuer:          "http://localhost:8080/api",
		AccessTokenTTL:  900,
		RefreshTokenTTL: 3600,
	}, storage.NewRevocationList())

	return NewService(db, tokens)
}

func registerAlice(t *testing.T, s *Service) uint {
	t.Helper()
	user, err := s.Register("Alice", "Example", "alice@example.com", "pw123")
	require.NoError(t, err)
	return user.ID
}

func TestRegisterNormalizesEmail(t *testing.T) {
	s := setupTestService(t)

	user, err := s.Register("Alice", "Example", "  Alice@Example.COM ", "pw123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, uint(1), user.TokenEpoch)
	assert.NotEqual(t, "pw123", user.HashedPassword)
	assert.True(t, user.CheckPassword("pw123"))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	// Same normalized email, different case.
	_, err := s.Register("Other", "Alice", "ALICE@example.com", "other")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterInvalidEmail(t *testing.T) {
	s := setupTestService(t)

	_, err := s.Register("Alice", "Example", "not-an-email", "pw123")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestLoginAndWhoAmI(t *testing.T) {
	s := setupTestService(t)
	userID := registerAlice(t, s)

	result, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, userID, result.UserID)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)

	user, err := s.WhoAmI(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestLoginWrongPassword(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	_, err := s.Login("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown email gives the same error as a wrong password.
	_, err = s.Login("nobody@example.com", "pw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutRevokesOnlyThatToken(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	first, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)
	second, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	require.NoError(t, s.Logout(first.AccessToken, token.KindAccess))

	_, err = s.WhoAmI(first.AccessToken)
	assert.ErrorIs(t, err, token.ErrRevoked)

	// The other session's token still works.
	_, err = s.WhoAmI(second.AccessToken)
	assert.NoError(t, err)

	// Logging out an already-revoked token is a no-op success.
	assert.NoError(t, s.Logout(first.AccessToken, token.KindAccess))
}

func TestLogoutRefreshToken(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	result, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	require.NoError(t, s.Logout(result.RefreshToken, token.KindRefresh))

	_, err = s.Refresh(result.RefreshToken)
	assert.ErrorIs(t, err, token.ErrRevoked)

	// An access token cannot be revoked through the refresh logout.
	err = s.Logout(result.AccessToken, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrWrongKind)
}

func TestRefresh(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	result, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	accessToken, err := s.Refresh(result.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)

	// The minted token independently passes access verification.
	_, err = s.WhoAmI(accessToken)
	assert.NoError(t, err)

	// The refresh token is not rotated; it keeps working.
	again, err := s.Refresh(result.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, again)

	// An access token is not accepted where a refresh token is required.
	_, err = s.Refresh(result.AccessToken)
	assert.ErrorIs(t, err, token.ErrWrongKind)
}

func TestLogoutAll(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	before, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)
	other, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	require.NoError(t, s.LogoutAll(before.AccessToken))

	// Every token issued before the bump is stale, access and refresh alike.
	_, err = s.WhoAmI(before.AccessToken)
	assert.ErrorIs(t, err, token.ErrStaleEpoch)
	_, err = s.WhoAmI(other.AccessToken)
	assert.ErrorIs(t, err, token.ErrStaleEpoch)
	_, err = s.Refresh(before.RefreshToken)
	assert.ErrorIs(t, err, token.ErrStaleEpoch)

	// A stale token cannot trigger another bump.
	err = s.LogoutAll(before.AccessToken)
	assert.ErrorIs(t, err, token.ErrStaleEpoch)

	// Tokens issued after the bump carry the new epoch and pass.
	after, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)
	_, err = s.WhoAmI(after.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshAfterLogoutAllUsesCurrentEpoch(t *testing.T) {
	s := setupTestService(t)
	registerAlice(t, s)

	old, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	fresh, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)
	require.NoError(t, s.LogoutAll(fresh.AccessToken))

	// The old refresh token was issued before the bump.
	_, err = s.Refresh(old.RefreshToken)
	assert.ErrorIs(t, err, token.ErrStaleEpoch)

	// A post-bump login refreshes fine and the minted access token carries
	// the current epoch.
	current, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)
	minted, err := s.Refresh(current.RefreshToken)
	require.NoError(t, err)
	_, err = s.WhoAmI(minted)
	assert.NoError(t, err)
}

// A token whose user row has since been deleted authenticates no further.
func TestDeletedUser(t *testing.T) {
	s := setupTestService(t)
	userID := registerAlice(t, s)

	result, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	require.NoError(t, s.db.Delete(&models.User{}, userID).Error)

	_, err = s.WhoAmI(result.AccessToken)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.Refresh(result.RefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLogoutExpiredToken(t *testing.T) {
	db, err := gormw.Open(&gormw.Config{
		LogLevel: gormlog.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	tokens := token.NewService(&token.Config{
		PrivateKeyPEM:   testdata.PrivateKeyPEM,
		Issuer:          "http://localhost:8080/api",
		AccessTokenTTL:  1,
		RefreshTokenTTL: 3600,
	}, storage.NewRevocationList())
	s := NewService(db, tokens)
	registerAlice(t, s)

	result, err := s.Login("alice@example.com", "pw123")
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	// Logging out an already-expired token is a no-op success.
	assert.NoError(t, s.Logout(result.AccessToken, token.KindAccess))

	_, err = s.WhoAmI(result.AccessToken)
	assert.ErrorIs(t, err, token.ErrExpired)
}
