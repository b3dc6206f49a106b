package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/middleware"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

// AuthHandler exposes login, refresh, and logout endpoints.
type AuthHandler struct {
	auth *usecase.AuthService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares, refreshMiddlewares []gin.HandlerFunc) {
	r.POST("/login", append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.login)...)
	r.POST("/refresh", append(append([]gin.HandlerFunc{}, refreshMiddlewares...), h.refresh)...)
	r.POST("/logout", h.logout)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identifier and password are required"))
		return
	}

	device := deviceInfoFromRequest(c, req.DeviceID, req.DeviceLabel)

	pair, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password, device)
	if err != nil {
		loginErrors().respond(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthLoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.AccessExpiresAt),
		SessionID:    pair.ChainID,
	})
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, middleware.ClientIP(c))
	if err != nil {
		refreshErrors().respond(c, err)
		return
	}

	c.JSON(http.StatusOK, TokenRefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.AccessExpiresAt),
	})
}

// logout accepts the refresh token in the body so it works even after the
// access token expired. Invalid tokens still return 204.
func (h *AuthHandler) logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to log out"))
		return
	}

	c.Status(http.StatusNoContent)
}

func deviceInfoFromRequest(c *gin.Context, deviceID, deviceLabel string) domain.DeviceInfo {
	device := domain.DeviceInfo{}

	if id := strings.TrimSpace(deviceID); id != "" {
		device.DeviceID = &id
	}
	if label := strings.TrimSpace(deviceLabel); label != "" {
		device.DeviceLabel = &label
	}
	if ip := middleware.ClientIP(c); ip != "" {
		device.IP = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		device.UserAgent = &ua
	}
	return device
}

func expiresIn(expiresAt time.Time) int {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds())
}
