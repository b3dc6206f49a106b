package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

func respondWith(t *testing.T, m errorMapping, err error) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	m.respond(c, err)
	return rr
}

func TestRefreshErrorsMapSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"reuse", &usecase.TokenReuseError{TokenID: "tok-1"}, http.StatusUnauthorized},
		{"expired", fmt.Errorf("rotate: %w", usecase.ErrExpiredToken), http.StatusUnauthorized},
		{"invalid", usecase.ErrInvalidToken, http.StatusUnauthorized},
		{"unmapped", errors.New("pool exhausted"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := respondWith(t, refreshErrors(), tt.err)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestLoginErrorsNameLockoutOnly(t *testing.T) {
	rr := respondWith(t, loginErrors(), usecase.ErrAccountLocked)
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423 for a locked account, got %d", rr.Code)
	}

	rr = respondWith(t, loginErrors(), usecase.ErrInvalidCredentials)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rr.Code)
	}
}
