// Package quizapi exposes the test-session routes. Every route sits behind
// the access-token middleware; sessions are only ever visible to their owner.
package quizapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-set/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/handlers/authapi"
	"github.com/prepline/backend/internal/models"
	"github.com/prepline/backend/internal/session"
	"github.com/prepline/backend/internal/storage"
)

var (
	logger = log.With().Str("component", "quizapi").Logger()

	// Answer states the frontend may record: a choice index or a boolean.
	allowedAnswerStates = set.From([]string{"1", "2", "3", "true", "false"})
)

type Handlers struct {
	db       *gormw.DB
	sessions *session.Service
}

func NewHandlers(db *gormw.DB, sessions *session.Service) *Handlers {
	return &Handlers{
		db:       db,
		sessions: sessions,
	}
}

func (h *Handlers) RegisterHandlers(rg *gin.RouterGroup) {
	routes := rg.Group("/sessions")
	routes.Use(authapi.RequireAuth(h.sessions))
	{
		routes.POST("", h.handleCreateSession)
		routes.GET("", h.handleListSessions)
		routes.GET("/:session_id", h.handleGetSession)
		routes.PATCH("/:session_id/complete", h.handleCompleteSession)
		routes.POST("/:session_id/answers", h.handleSaveAnswer)
		routes.GET("/:session_id/answers", h.handleListAnswers)
		routes.GET("/:session_id/categories", h.handleListCategories)
		routes.PATCH("/:session_id/categories/:category_id/complete", h.handleCompleteCategory)
		routes.PATCH("/:session_id/categories/:category_id/correct", h.handleCorrectCategory)
	}
}

func message(msg string) gin.H {
	return gin.H{"message": msg}
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, message("Invalid "+name))
		return 0, false
	}
	return uint(id), true
}

// ownedSession loads the session only if it belongs to the caller.
func (h *Handlers) ownedSession(c *gin.Context) (*models.TestSession, bool) {
	sessionID, ok := pathID(c, "session_id")
	if !ok {
		return nil, false
	}

	ts, err := storage.GetTestSession(h.db, authapi.UserID(c), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, message("Session not found"))
			return nil, false
		}
		logger.Error().Err(err).Msg("Database error during session lookup")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return nil, false
	}
	return ts, true
}

func (h *Handlers) handleCreateSession(c *gin.Context) {
	ts, err := storage.CreateTestSession(h.db, authapi.UserID(c))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create test session")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Session created",
		"session_id": ts.ID,
		"started_at": ts.StartedAt.Format(time.RFC3339),
	})
}

type sessionResponse struct {
	ID          uint    `json:"id"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

func toSessionResponse(ts *models.TestSession) sessionResponse {
	resp := sessionResponse{
		ID:        ts.ID,
		StartedAt: ts.StartedAt.Format(time.RFC3339),
	}
	if ts.CompletedAt != nil {
		s := ts.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

func (h *Handlers) handleListSessions(c *gin.Context) {
	sessions, err := storage.ListTestSessions(h.db, authapi.UserID(c))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list test sessions")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		resp = append(resp, toSessionResponse(&sessions[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) handleGetSession(c *gin.Context) {
	ts, ok := h.ownedSession(c)
	if !ok {
		return
	}

	answerCount, err := storage.CountAnswers(h.db, ts.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to count answers")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	resp := toSessionResponse(ts)
	c.JSON(http.StatusOK, gin.H{
		"id":            resp.ID,
		"started_at":    resp.StartedAt,
		"completed_at":  resp.CompletedAt,
		"answers_count": answerCount,
	})
}

func (h *Handlers) handleCompleteSession(c *gin.Context) {
	ts, ok := h.ownedSession(c)
	if !ok {
		return
	}
	if ts.CompletedAt != nil {
		c.JSON(http.StatusBadRequest, message("Session already completed"))
		return
	}

	if err := storage.CompleteTestSession(h.db, ts); err != nil {
		logger.Error().Err(err).Msg("Failed to complete test session")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	c.JSON(http.StatusOK, message("Session completed"))
}

func (h *Handlers) handleListCategories(c *gin.Context) {
	ts, ok := h.ownedSession(c)
	if !ok {
		return
	}

	scs, err := storage.ListSessionCategories(h.db, ts.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list session categories")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	type categoryResponse struct {
		ID            uint    `json:"id"`
		Name          string  `json:"name"`
		QuestionCount int     `json:"question_count"`
		StartedAt     *string `json:"started_at"`
		CompletedAt   *string `json:"completed_at"`
		WasCorrected  bool    `json:"was_corrected"`
	}

	resp := make([]categoryResponse, 0, len(scs))
	for _, sc := range scs {
		cr := categoryResponse{
			ID:            sc.CategoryID,
			Name:          sc.Category.Name,
			QuestionCount: sc.Category.QuestionCount,
			WasCorrected:  sc.WasCorrected,
		}
		if sc.StartedAt != nil {
			s := sc.StartedAt.Format(time.RFC3339)
			cr.StartedAt = &s
		}
		if sc.CompletedAt != nil {
			s := sc.CompletedAt.Format(time.RFC3339)
			cr.CompletedAt = &s
		}
		resp = append(resp, cr)
	}

	c.JSON(http.StatusOK, resp)
}

// sessionCategory loads the per-session category row after the ownership
// check on the session itself.
func (h *Handlers) sessionCategory(c *gin.Context) (*models.SessionCategory, bool) {
	ts, ok := h.ownedSession(c)
	if !ok {
		return nil, false
	}
	categoryID, ok := pathID(c, "category_id")
	if !ok {
		return nil, false
	}

	sc, err := storage.GetSessionCategory(h.db, ts.ID, categoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, message("Category not part of this session"))
			return nil, false
		}
		logger.Error().Err(err).Msg("Database error during category lookup")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return nil, false
	}
	return sc, true
}

func (h *Handlers) handleCompleteCategory(c *gin.Context) {
	sc, ok := h.sessionCategory(c)
	if !ok {
		return
	}

	// A category without a single answer cannot be completed.
	hasAnswer, err := h.categoryHasAnswer(sc)
	if err != nil {
		logger.Error().Err(err).Msg("Database error during answer lookup")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}
	if !hasAnswer {
		c.JSON(http.StatusBadRequest, message("No answers for this category in this session"))
		return
	}

	if sc.CompletedAt != nil {
		c.JSON(http.StatusBadRequest, message("Category already completed"))
		return
	}

	if err := storage.MarkCategoryCompleted(h.db, sc); err != nil {
		logger.Error().Err(err).Msg("Failed to complete category")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Category completed",
		"category_id":  sc.CategoryID,
		"completed_at": sc.CompletedAt.Format(time.RFC3339),
	})
}

func (h *Handlers) categoryHasAnswer(sc *models.SessionCategory) (bool, error) {
	var n int64
	err := h.db.Model(&models.Answer{}).
		Where("session_id = ? AND category_id = ?", sc.SessionID, sc.CategoryID).
		Count(&n).Error
	return n > 0, err
}

func (h *Handlers) handleCorrectCategory(c *gin.Context) {
	sc, ok := h.sessionCategory(c)
	if !ok {
		return
	}

	if sc.WasCorrected {
		c.JSON(http.StatusBadRequest, message("Category already corrected"))
		return
	}

	if err := storage.MarkCategoryCorrected(h.db, sc); err != nil {
		logger.Error().Err(err).Msg("Failed to correct category")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Category corrected",
		"category_id":   sc.CategoryID,
		"was_corrected": true,
	})
}

type saveAnswerParams struct {
	CategoryID     uint   `json:"category_id" binding:"required"`
	QuestionNumber int    `json:"question_number" binding:"required"`
	AnswerState    string `json:"answer_state" binding:"required"`
	UserAnswer     string `json:"user_answer"`
}

func (h *Handlers) handleSaveAnswer(c *gin.Context) {
	ts, ok := h.ownedSession(c)
	if !ok {
		return
	}
	if ts.CompletedAt != nil {
		c.JSON(http.StatusBadRequest, message("Session already completed"))
		return
	}

	params := &saveAnswerParams{}
	if err := c.ShouldBindJSON(params); err != nil {
		c.JSON(http.StatusBadRequest, message("Invalid or missing required fields"))
		return
	}

	if !allowedAnswerStates.Contains(params.AnswerState) {
		c.JSON(http.StatusBadRequest, message("Invalid answer state"))
		return
	}

	sc, err := storage.GetSessionCategory(h.db, ts.ID, params.CategoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, message("Category not part of this session"))
			return
		}
		logger.Error().Err(err).Msg("Database error during category lookup")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	if params.QuestionNumber < 1 || params.QuestionNumber > sc.Category.QuestionCount {
		c.JSON(http.StatusBadRequest, message("Invalid question number"))
		return
	}

	// First answer in a category marks the category started.
	if sc.StartedAt == nil {
		if err := storage.MarkCategoryStarted(h.db, sc); err != nil {
			logger.Error().Err(err).Msg("Failed to mark category started")
			c.JSON(http.StatusInternalServerError, message("Internal error"))
			return
		}
	}

	answer := &models.Answer{
		SessionID:      ts.ID,
		CategoryID:     params.CategoryID,
		QuestionNumber: params.QuestionNumber,
		AnswerState:    params.AnswerState,
		UserAnswer:     params.UserAnswer,
	}
	if err := storage.UpsertAnswer(h.db, answer); err != nil {
		logger.Error().Err(err).Msg("Failed to save answer")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	c.JSON(http.StatusOK, message("Answer saved"))
}

func (h *Handlers) handleListAnswers(c *gin.Context) {
	ts, ok := h.ownedSession(c)
	if !ok {
		return
	}

	answers, err := storage.ListAnswers(h.db, ts.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list answers")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
		return
	}

	type answerResponse struct {
		ID             uint   `json:"id"`
		CategoryID     uint   `json:"category_id"`
		QuestionNumber int    `json:"question_number"`
		AnswerState    string `json:"answer_state"`
		UserAnswer     string `json:"user_answer"`
		AnsweredAt     string `json:"answered_at"`
	}

	resp := make([]answerResponse, 0, len(answers))
	for _, a := range answers {
		resp = append(resp, answerResponse{
			ID:             a.ID,
			CategoryID:     a.CategoryID,
			QuestionNumber: a.QuestionNumber,
			AnswerState:    a.AnswerState,
			UserAnswer:     a.UserAnswer,
			AnsweredAt:     a.AnsweredAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, resp)
}
