package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

// errorCase maps one sentinel error to an HTTP status and client message.
type errorCase struct {
	err     error
	status  int
	message string
}

// errorMapping is the error surface of one endpoint: sentinel cases checked
// in order with errors.Is, and a fallback for anything unmapped. Order
// matters where sentinels wrap each other; the most specific case goes first.
type errorMapping struct {
	cases           []errorCase
	fallbackStatus  int
	fallbackMessage string
}

func (m errorMapping) respond(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range m.cases {
		if cs.err == nil {
			continue
		}
		if errors.Is(err, cs.err) {
			c.JSON(cs.status, NewErrorResponse(c, cs.message))
			return
		}
	}

	c.JSON(m.fallbackStatus, NewErrorResponse(c, m.fallbackMessage))
}

// Login failures stay generic on purpose: the client never learns whether the
// identifier exists. Lockouts are the one state worth naming, so the caller
// stops burning attempts.
func loginErrors() errorMapping {
	return errorMapping{
		cases: []errorCase{
			{err: usecase.ErrInvalidCredentials, status: http.StatusUnauthorized, message: "invalid credentials"},
			{err: usecase.ErrAccountLocked, status: http.StatusLocked, message: "account temporarily locked"},
		},
		fallbackStatus:  http.StatusInternalServerError,
		fallbackMessage: "failed to log in",
	}
}

// Reuse must be matched before the plain revocation case: a replayed token is
// also a revoked token, and the client should learn its sessions are gone.
func refreshErrors() errorMapping {
	return errorMapping{
		cases: []errorCase{
			{err: usecase.ErrReuseDetected, status: http.StatusUnauthorized, message: "refresh token reuse detected; all sessions revoked"},
			{err: usecase.ErrExpiredToken, status: http.StatusUnauthorized, message: "refresh token expired"},
			{err: usecase.ErrRevokedToken, status: http.StatusUnauthorized, message: "refresh token revoked"},
			{err: usecase.ErrInvalidToken, status: http.StatusUnauthorized, message: "invalid refresh token"},
		},
		fallbackStatus:  http.StatusInternalServerError,
		fallbackMessage: "failed to refresh token",
	}
}

func captchaVerifyErrors() errorMapping {
	return errorMapping{
		cases: []errorCase{
			{err: usecase.ErrCaptchaNotFound, status: http.StatusNotFound, message: "challenge not found"},
			{err: usecase.ErrCaptchaExpired, status: http.StatusGone, message: "challenge expired"},
			{err: usecase.ErrCaptchaAttemptsExceeded, status: http.StatusTooManyRequests, message: "challenge attempts exhausted"},
			{err: usecase.ErrCaptchaIncorrect, status: http.StatusBadRequest, message: "incorrect answer"},
		},
		fallbackStatus:  http.StatusInternalServerError,
		fallbackMessage: "failed to verify challenge",
	}
}

func sessionRevokeErrors() errorMapping {
	return errorMapping{
		cases: []errorCase{
			{err: usecase.ErrSessionNotFound, status: http.StatusNotFound, message: "session not found"},
		},
		fallbackStatus:  http.StatusInternalServerError,
		fallbackMessage: "failed to revoke session",
	}
}
