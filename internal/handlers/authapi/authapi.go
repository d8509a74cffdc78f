// Package authapi exposes the auth operations as JSON routes under
// /auth: register, login, refresh, logout, logout-refresh, logout-all, me.
package authapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/session"
	"github.com/prepline/backend/internal/token"
)

var (
	logger = log.With().Str("component", "authapi").Logger()
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
	authRoutes := rg.Group("/auth")
	{
		authRoutes.POST("/register", h.handleRegister)
		authRoutes.POST("/login", h.handleLogin)
		authRoutes.POST("/refresh", h.handleRefresh)
		authRoutes.POST("/logout", h.handleLogout)
		authRoutes.POST("/logout-refresh", h.handleLogoutRefresh)
		authRoutes.POST("/logout-all", h.handleLogoutAll)
		authRoutes.GET("/me", h.handleMe)
	}
}

func message(msg string) gin.H {
	return gin.H{"message": msg}
}

// BearerToken pulls the raw token out of the Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return "", false
	}
	return raw, true
}

// responseAuthError maps the error taxonomy to a status code with a coarse
// message. Internal detail stays in the log.
func responseAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, message("Invalid email or password"))
	case errors.Is(err, token.ErrExpired):
		c.JSON(http.StatusUnauthorized, message("Token expired"))
	case errors.Is(err, token.ErrRevoked):
		c.JSON(http.StatusUnauthorized, message("Token revoked"))
	case errors.Is(err, token.ErrStaleEpoch):
		c.JSON(http.StatusUnauthorized, message("Token no longer valid"))
	case errors.Is(err, token.ErrBadSignature), errors.Is(err, token.ErrWrongKind):
		c.JSON(http.StatusUnauthorized, message("Invalid token"))
	case errors.Is(err, session.ErrUserNotFound):
		c.JSON(http.StatusNotFound, message("User not found"))
	case errors.Is(err, token.ErrRevocationUnavailable):
		logger.Error().Err(err).Msg("Revocation list unavailable in fail-closed mode")
		c.JSON(http.StatusServiceUnavailable, message("Service unavailable"))
	default:
		logger.Error().Err(err).Msg("Internal error during auth request")
		c.JSON(http.StatusInternalServerError, message("Internal error"))
	}
}

type registerParams struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

func (h *Handlers) handleRegister(c *gin.Context) {
	params := &registerParams{}
	if err := c.ShouldBindJSON(params); err != nil {
		c.JSON(http.StatusBadRequest, message("Missing required fields"))
		return
	}

	user, err := h.sessions.Register(params.FirstName, params.LastName, params.Email, params.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, message("Invalid email format"))
		case errors.Is(err, session.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, message("User already exists"))
		default:
			logger.Error().Err(err).Msg("Failed to create user")
			c.JSON(http.StatusInternalServerError, message("Internal error"))
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user_id": user.ID,
	})
}

type loginParams struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) handleLogin(c *gin.Context) {
	params := &loginParams{}
	if err := c.ShouldBindJSON(params); err != nil {
		c.JSON(http.StatusBadRequest, message("Missing email or password"))
		return
	}

	result, err := h.sessions.Login(params.Email, params.Password)
	if err != nil {
		responseAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Login successful",
		"user_id":       result.UserID,
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

func (h *Handlers) handleRefresh(c *gin.Context) {
	raw, ok := BearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, message("Missing bearer token"))
		return
	}

	accessToken, err := h.sessions.Refresh(raw)
	if err != nil {
		responseAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": accessToken})
}

func (h *Handlers) handleLogout(c *gin.Context) {
	h.logout(c, token.KindAccess, "Logged out")
}

func (h *Handlers) handleLogoutRefresh(c *gin.Context) {
	h.logout(c, token.KindRefresh, "Refresh token revoked")
}

func (h *Handlers) logout(c *gin.Context, kind token.Kind, okMsg string) {
	raw, ok := BearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, message("Missing bearer token"))
		return
	}

	if err := h.sessions.Logout(raw, kind); err != nil {
		responseAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, message(okMsg))
}

func (h *Handlers) handleLogoutAll(c *gin.Context) {
	raw, ok := BearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, message("Missing bearer token"))
		return
	}

	if err := h.sessions.LogoutAll(raw); err != nil {
		responseAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, message("All sessions revoked"))
}

func (h *Handlers) handleMe(c *gin.Context) {
	raw, ok := BearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, message("Missing bearer token"))
		return
	}

	user, err := h.sessions.WhoAmI(raw)
	if err != nil {
		responseAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"email":      user.Email,
	})
}

// RequireAuth guards a route group with full access-token verification and
// stores the authenticated user id in the context.
func RequireAuth(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, message("Missing bearer token"))
			return
		}

		user, _, err := sessions.Authenticate(raw)
		if err != nil {
			responseAuthError(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, user.ID)
		c.Next()
	}
}

// ContextUserIDKey is where RequireAuth stores the authenticated user id.
const ContextUserIDKey = "auth.userID"

// UserID reads the authenticated user id set by RequireAuth.
func UserID(c *gin.Context) uint {
	return c.GetUint(ContextUserIDKey)
}
