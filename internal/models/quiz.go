package models

import "time"

// TestCategory is a static quiz category (name + how many questions it has).
type TestCategory struct {
	ID            uint   `gorm:"primarykey"`
	Name          string `gorm:"uniqueIndex"`
	QuestionCount int    `gorm:"not null"`
}

// TestSession is one user's run through the full category set.
type TestSession struct {
	ID          uint `gorm:"primarykey"`
	UserID      uint `gorm:"index;not null"`
	StartedAt   time.Time
	CompletedAt *time.Time

	Categories []SessionCategory `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Answers    []Answer          `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// SessionCategory is per-session state of one category. Each category
// appears at most once per session, hence the composite primary key.
type SessionCategory struct {
	SessionID  uint `gorm:"primarykey;autoIncrement:false"`
	CategoryID uint `gorm:"primarykey;autoIncrement:false"`

	StartedAt    *time.Time
	CompletedAt  *time.Time
	WasCorrected bool `gorm:"not null;default:false"`

	Category TestCategory `gorm:"foreignKey:CategoryID"`
}

// Answer is one recorded answer. One row per session+category+question;
// re-answering updates in place.
type Answer struct {
	ID         uint `gorm:"primarykey"`
	SessionID  uint `gorm:"not null;uniqueIndex:uq_session_category_question"`
	CategoryID uint `gorm:"not null;uniqueIndex:uq_session_category_question"`

	QuestionNumber int    `gorm:"not null;uniqueIndex:uq_session_category_question"`
	AnswerState    string `gorm:"not null"` // one of "1", "2", "3", "true", "false"
	UserAnswer     string
	AnsweredAt     time.Time
}
