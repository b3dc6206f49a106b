package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/middleware"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

// CaptchaHandler exposes challenge issuance and verification.
type CaptchaHandler struct {
	captcha *usecase.CaptchaService
}

// NewCaptchaHandler constructs CaptchaHandler.
func NewCaptchaHandler(captcha *usecase.CaptchaService) *CaptchaHandler {
	return &CaptchaHandler{captcha: captcha}
}

// RegisterRoutes binds captcha routes, applying optional middleware ahead of handlers.
func (h *CaptchaHandler) RegisterRoutes(r *gin.RouterGroup, middlewares []gin.HandlerFunc) {
	r.POST("/captcha/challenge", append(append([]gin.HandlerFunc{}, middlewares...), h.create)...)
	r.POST("/captcha/verify", append(append([]gin.HandlerFunc{}, middlewares...), h.verify)...)
}

func (h *CaptchaHandler) create(c *gin.Context) {
	challenge, err := h.captcha.CreateChallenge(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to create challenge"))
		return
	}

	c.JSON(http.StatusCreated, CaptchaChallengeResponse{
		ChallengeID: challenge.ID,
		Question:    challenge.Question,
		ExpiresAt:   challenge.ExpiresAt,
		MaxAttempts: challenge.MaxAttempts,
	})
}

func (h *CaptchaHandler) verify(c *gin.Context) {
	var req CaptchaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "challenge_id and answer are required"))
		return
	}

	token, err := h.captcha.Verify(c.Request.Context(), req.ChallengeID, req.Answer, middleware.ClientIP(c))
	if err != nil {
		captchaVerifyErrors().respond(c, err)
		return
	}

	c.JSON(http.StatusOK, CaptchaVerifyResponse{Token: token})
}
