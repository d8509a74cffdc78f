// Package session orchestrates login, refresh, logout, and logout-all on top
// of the user store and the token service. Sessions are not stored anywhere:
// the per-user token epoch plus per-token revocation carry all the state.
package session

import (
	"errors"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/models"
	"github.com/prepline/backend/internal/storage"
	"github.com/prepline/backend/internal/token"
)

var (
	logger = log.With().Str("component", "session").Logger()

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrDuplicateEmail     = storage.ErrDuplicateEmail
	ErrUserNotFound       = errors.New("user not found")
)

// dummyHash keeps the unknown-email login path on the same bcrypt compare as
// the known-email path, so response timing does not reveal which one failed.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to hash dummy password")
	}
	return string(h)
}()

type Service struct {
	db     *gormw.DB
	tokens *token.Service
}

func NewService(db *gormw.DB, tokens *token.Service) *Service {
	return &Service{
		db:     db,
		tokens: tokens,
	}
}

// NormalizeEmail is applied before every store lookup or insert.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new user. Email is normalized and must be unused.
func (s *Service) Register(firstName, lastName, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)

	if err := checkmail.ValidateFormat(email); err != nil {
		return nil, ErrInvalidEmail
	}

	if _, err := storage.GetUserByEmail(s.db, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		FirstName:      firstName,
		LastName:       lastName,
		Email:          email,
		HashedPassword: string(hashedPassword),
		TokenEpoch:     1,
	}

	// The unique index backstops the lookup above against a racing register.
	if err := storage.CreateUser(s.db, user); err != nil {
		return nil, err
	}

	return user, nil
}

// LoginResult carries the freshly issued token pair.
type LoginResult struct {
	UserID       uint
	AccessToken  string
	RefreshToken string
}

// Login verifies credentials and issues one access and one refresh token,
// both stamped with the user's current epoch.
func (s *Service) Login(email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := storage.GetUserByEmail(s.db, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Burn a compare so "no such user" costs the same as
			// "wrong password".
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.tokens.Issue(user.ID, token.KindAccess, user.TokenEpoch)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.Issue(user.ID, token.KindRefresh, user.TokenEpoch)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh verifies the refresh token and issues a new access token stamped
// with the user's current epoch, so a logout-all between issuance and
// refresh takes effect immediately. The refresh token is not rotated.
func (s *Service) Refresh(refreshToken string) (string, error) {
	claims, err := s.tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return "", err
	}

	user, err := storage.GetUserByID(s.db, claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	if err := s.tokens.CheckEpoch(claims, user); err != nil {
		return "", err
	}

	return s.tokens.Issue(user.ID, token.KindAccess, user.TokenEpoch)
}

// Logout revokes the presented token for the rest of its own lifetime.
// Revoking an already-revoked or already-expired token is a no-op success.
func (s *Service) Logout(raw string, kind token.Kind) error {
	claims, err := s.tokens.Verify(raw, kind)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) || errors.Is(err, token.ErrExpired) {
			return nil
		}
		return err
	}

	return s.tokens.Revoke(claims)
}

// LogoutAll bumps the user's epoch, invalidating every token issued before
// this call without touching the revocation list. The presented access token
// must still be fully valid, epoch included.
func (s *Service) LogoutAll(accessToken string) error {
	user, _, err := s.authenticate(accessToken)
	if err != nil {
		return err
	}

	newEpoch, err := storage.BumpTokenEpoch(s.db, user.ID)
	if err != nil {
		return err
	}

	logger.Info().Uint("user_id", user.ID).Uint("epoch", newEpoch).Msg("Revoked all sessions")
	return nil
}

// WhoAmI verifies the access token and returns the user it belongs to.
func (s *Service) WhoAmI(accessToken string) (*models.User, error) {
	user, _, err := s.authenticate(accessToken)
	return user, err
}

// Authenticate verifies an access token end to end (signature, expiry,
// revocation, epoch) and returns the user and claims. The route layer uses
// this to guard every protected endpoint.
func (s *Service) Authenticate(accessToken string) (*models.User, *token.Claims, error) {
	return s.authenticate(accessToken)
}

func (s *Service) authenticate(accessToken string) (*models.User, *token.Claims, error) {
	claims, err := s.tokens.Verify(accessToken, token.KindAccess)
	if err != nil {
		return nil, nil, err
	}

	user, err := storage.GetUserByID(s.db, claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}

	if err := s.tokens.CheckEpoch(claims, user); err != nil {
		return nil, nil, err
	}

	return user, claims, nil
}
