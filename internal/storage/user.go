package storage

import (
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/models"
)

var (
	logger = log.With().Str("component", "storage").Logger()

	// ErrDuplicateEmail is returned by CreateUser when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
)

func GetUserByEmail(db *gormw.DB, email string) (*models.User, error) {
	user := &models.User{}
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func GetUserByID(db *gormw.DB, id uint) (*models.User, error) {
	user := &models.User{}
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts the user, mapping the unique-email violation to
// ErrDuplicateEmail. Email must already be normalized by the caller.
func CreateUser(db *gormw.DB, user *models.User) error {
	err := db.Create(user).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// BumpTokenEpoch increments the user's token epoch with a single UPDATE so
// concurrent bumps never lose an increment. Returns the epoch re-read after
// the update; a concurrent bump may make it larger than old+1, which is fine
// since the epoch only grows.
func BumpTokenEpoch(db *gormw.DB, userID uint) (uint, error) {
	res := db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("token_epoch", gorm.Expr("token_epoch + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}

	user, err := GetUserByID(db, userID)
	if err != nil {
		return 0, err
	}
	return user.TokenEpoch, nil
}
