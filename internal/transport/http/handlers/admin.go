package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/middleware"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

// AdminHandler exposes the operator surface: account locks, forced session
// termination, rate limit resets, and the audit trail.
type AdminHandler struct {
	events   *usecase.SecurityEventHandler
	sessions *usecase.SessionManager
	limiter  *usecase.RateLimiter
	audit    port.AuditQuerier
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(
	events *usecase.SecurityEventHandler,
	sessions *usecase.SessionManager,
	limiter *usecase.RateLimiter,
	audit port.AuditQuerier,
) *AdminHandler {
	return &AdminHandler{
		events:   events,
		sessions: sessions,
		limiter:  limiter,
		audit:    audit,
	}
}

// RegisterRoutes binds admin routes on an authenticated group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/lock", h.lockAccount)
	r.POST("/accounts/unlock", h.unlockAccount)
	r.DELETE("/users/:id/sessions", h.terminateSessions)
	r.POST("/rate-limits/reset", h.resetRateLimit)
	r.POST("/rate-limits/block", h.blockRateLimitKey)
	r.GET("/events", h.listEvents)
}

func (h *AdminHandler) lockAccount(c *gin.Context) {
	var req AdminAccountLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identifier is required"))
		return
	}

	if err := h.events.AdminLock(c.Request.Context(), req.Identifier, h.actor(c), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to lock account"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "account locked"})
}

func (h *AdminHandler) unlockAccount(c *gin.Context) {
	var req AdminAccountLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identifier is required"))
		return
	}

	if err := h.events.AdminUnlock(c.Request.Context(), req.Identifier, h.actor(c), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to unlock account"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "account unlocked"})
}

func (h *AdminHandler) terminateSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user id is required"))
		return
	}

	revoked, err := h.sessions.InvalidateAll(c.Request.Context(), userID, "admin", "admin_terminated")
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to terminate sessions"))
		return
	}

	c.JSON(http.StatusOK, SessionsRevokedResponse{SessionsRevoked: revoked})
}

func (h *AdminHandler) resetRateLimit(c *gin.Context) {
	var req AdminRateLimitResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "key is required"))
		return
	}

	if err := h.limiter.Reset(c.Request.Context(), req.Key); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to reset rate limit"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "rate limit reset"})
}

func (h *AdminHandler) blockRateLimitKey(c *gin.Context) {
	var req AdminRateLimitBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "key is required"))
		return
	}

	duration := time.Hour
	if raw := strings.TrimSpace(req.Duration); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "duration must be a positive duration"))
			return
		}
		duration = parsed
	}

	until, err := h.limiter.BlockKey(c.Request.Context(), req.Key, h.actor(c), req.Reason, duration)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to block key"))
		return
	}

	c.JSON(http.StatusOK, AdminRateLimitBlockResponse{Message: "key blocked", BlockedUntil: until})
}

func (h *AdminHandler) listEvents(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "audit log unavailable"))
		return
	}

	filter := port.AuditFilter{
		Subject:  strings.TrimSpace(c.Query("subject")),
		Kind:     strings.TrimSpace(c.Query("kind")),
		Severity: domain.EventSeverity(strings.TrimSpace(c.Query("severity"))),
	}

	if since := strings.TrimSpace(c.Query("since")); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "since must be RFC 3339"))
			return
		}
		filter.Since = parsed
	}

	if limit := strings.TrimSpace(c.Query("limit")); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be a positive integer"))
			return
		}
		filter.Limit = parsed
	}

	records, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list events"))
		return
	}

	events := make([]AuditEventSummary, 0, len(records))
	for _, record := range records {
		events = append(events, AuditEventSummary{
			ID:         record.ID,
			Kind:       record.Kind,
			Severity:   string(record.Severity),
			Subject:    record.Subject,
			Payload:    json.RawMessage(record.Payload),
			OccurredAt: record.OccurredAt,
		})
	}

	c.JSON(http.StatusOK, AuditEventListResponse{Events: events})
}

func (h *AdminHandler) actor(c *gin.Context) string {
	if userID, ok := middleware.GetAuthenticatedUserID(c); ok {
		return userID
	}
	return "admin"
}
