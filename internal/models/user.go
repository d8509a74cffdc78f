package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	FirstName      string
	LastName       string
	Email          string `gorm:"uniqueIndex"`
	HashedPassword string

	// TokenEpoch is stamped into every issued token as the "ver" claim.
	// Bumping it invalidates all previously issued tokens for this user.
	// Starts at 1 and only ever increases.
	TokenEpoch uint `gorm:"not null;default:1"`
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) == nil
}
