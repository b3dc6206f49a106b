package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/middleware"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

// SessionHandler exposes session introspection and termination for the
// authenticated user.
type SessionHandler struct {
	sessions *usecase.SessionManager
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *usecase.SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds session routes on an authenticated group.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sessions", h.list)
	r.DELETE("/sessions/:id", h.revoke)
	r.DELETE("/sessions", h.revokeOthers)
}

func (h *SessionHandler) list(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	currentChainID, _ := middleware.GetAuthenticatedChainID(c)

	sessions, err := h.sessions.ListSessions(c.Request.Context(), userID, currentChainID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, newSessionSummary(session))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: summaries})
}

func (h *SessionHandler) revoke(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	chainID := strings.TrimSpace(c.Param("id"))
	if chainID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session id is required"))
		return
	}

	err := h.sessions.InvalidateSession(c.Request.Context(), userID, chainID, "user", "user_revoked")
	if err != nil {
		sessionRevokeErrors().respond(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// revokeOthers terminates every session except the caller's own.
func (h *SessionHandler) revokeOthers(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	currentChainID, _ := middleware.GetAuthenticatedChainID(c)

	revoked, err := h.sessions.InvalidateAllExcept(c.Request.Context(), userID, currentChainID, "user", "user_revoked_others")
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke sessions"))
		return
	}

	c.JSON(http.StatusOK, SessionsRevokedResponse{SessionsRevoked: revoked})
}

func newSessionSummary(session domain.SessionView) SessionSummary {
	return SessionSummary{
		ID:           session.ChainID,
		DeviceID:     session.DeviceID,
		DeviceLabel:  session.DeviceLabel,
		IP:           session.IP,
		UserAgent:    session.UserAgent,
		CreatedAt:    session.CreatedAt,
		ExpiresAt:    session.ExpiresAt,
		LastActivity: session.LastActivity,
		Current:      session.IsCurrent,
	}
}
