package storage

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/models"
)

// SeedCategories inserts any category from the list that does not exist yet.
// Existing categories are matched by name and left untouched.
func SeedCategories(db *gormw.DB, categories []models.TestCategory) error {
	for _, c := range categories {
		existing := &models.TestCategory{}
		err := db.Where("name = ?", c.Name).First(existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		if err := db.Create(&models.TestCategory{
			Name:          c.Name,
			QuestionCount: c.QuestionCount,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

func ListCategories(db *gormw.DB) ([]models.TestCategory, error) {
	var categories []models.TestCategory
	err := db.Order("id").Find(&categories).Error
	return categories, err
}

// CreateTestSession starts a new session for the user and attaches one
// SessionCategory row per static category, all in one transaction.
func CreateTestSession(db *gormw.DB, userID uint) (*models.TestSession, error) {
	session := &models.TestSession{
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}

		var categories []models.TestCategory
		if err := tx.Order("id").Find(&categories).Error; err != nil {
			return err
		}

		for _, c := range categories {
			sc := &models.SessionCategory{
				SessionID:  session.ID,
				CategoryID: c.ID,
			}
			if err := tx.Create(sc).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func ListTestSessions(db *gormw.DB, userID uint) ([]models.TestSession, error) {
	var sessions []models.TestSession
	err := db.Where("user_id = ?", userID).Order("started_at DESC").Find(&sessions).Error
	return sessions, err
}

// GetTestSession returns the session only if it belongs to userID.
func GetTestSession(db *gormw.DB, userID, sessionID uint) (*models.TestSession, error) {
	session := &models.TestSession{}
	err := db.Where("id = ? AND user_id = ?", sessionID, userID).First(session).Error
	if err != nil {
		return nil, err
	}
	return session, nil
}

func CompleteTestSession(db *gormw.DB, session *models.TestSession) error {
	now := time.Now().UTC()
	session.CompletedAt = &now
	return db.Model(session).Update("completed_at", now).Error
}

func CountAnswers(db *gormw.DB, sessionID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Answer{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

func ListSessionCategories(db *gormw.DB, sessionID uint) ([]models.SessionCategory, error) {
	var scs []models.SessionCategory
	err := db.Preload("Category").
		Where("session_id = ?", sessionID).
		Order("category_id").
		Find(&scs).Error
	return scs, err
}

func GetSessionCategory(db *gormw.DB, sessionID, categoryID uint) (*models.SessionCategory, error) {
	sc := &models.SessionCategory{}
	err := db.Preload("Category").
		Where("session_id = ? AND category_id = ?", sessionID, categoryID).
		First(sc).Error
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func MarkCategoryStarted(db *gormw.DB, sc *models.SessionCategory) error {
	now := time.Now().UTC()
	sc.StartedAt = &now
	return db.Model(&models.SessionCategory{}).
		Where("session_id = ? AND category_id = ?", sc.SessionID, sc.CategoryID).
		Update("started_at", now).Error
}

func MarkCategoryCompleted(db *gormw.DB, sc *models.SessionCategory) error {
	now := time.Now().UTC()
	sc.CompletedAt = &now
	return db.Model(&models.SessionCategory{}).
		Where("session_id = ? AND category_id = ?", sc.SessionID, sc.CategoryID).
		Update("completed_at", now).Error
}

func MarkCategoryCorrected(db *gormw.DB, sc *models.SessionCategory) error {
	sc.WasCorrected = true
	return db.Model(&models.SessionCategory{}).
		Where("session_id = ? AND category_id = ?", sc.SessionID, sc.CategoryID).
		Update("was_corrected", true).Error
}

func GetAnswer(db *gormw.DB, sessionID, categoryID uint, questionNumber int) (*models.Answer, error) {
	a := &models.Answer{}
	err := db.Where("session_id = ? AND category_id = ? AND question_number = ?",
		sessionID, categoryID, questionNumber).First(a).Error
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpsertAnswer saves one answer, updating in place when the question was
// already answered in this session+category.
func UpsertAnswer(db *gormw.DB, answer *models.Answer) error {
	answer.AnsweredAt = time.Now().UTC()

	existing, err := GetAnswer(db, answer.SessionID, answer.CategoryID, answer.QuestionNumber)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return db.Create(answer).Error
		}
		return err
	}

	return db.Model(existing).Updates(map[string]interface{}{
		"answer_state": answer.AnswerState,
		"user_answer":  answer.UserAnswer,
		"answered_at":  answer.AnsweredAt,
	}).Error
}

func ListAnswers(db *gormw.DB, sessionID uint) ([]models.Answer, error) {
	var answers []models.Answer
	err := db.Where("session_id = ?", sessionID).
		Order("category_id, question_number").
		Find(&answers).Error
	return answers, err
}

const staleSessionAge = 30 * 24 * time.Hour

// Abandoned sessions will exist in database forever if not register a cleaner.
func RegisterStaleSessionsCleaner(scheduler gocron.Scheduler, db *gormw.DB) {
	_, _ = scheduler.NewJob(
		gocron.CronJob(
			// 4am Daily
			"0 4 * * *",
			false,
		),
		gocron.NewTask(
			func() {
				logger.Info().Msg("Cleaning up abandoned test sessions")
				cutoff := time.Now().Add(-staleSessionAge)
				db.Where("completed_at IS NULL AND started_at < ?", cutoff).
					Delete(&models.TestSession{})
			},
		),
	)
}
