package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"
	c.Request.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.2")
	c.Request.Header.Set("X-Real-IP", "203.0.113.9")

	if got := ClientIP(c); got != "198.51.100.7" {
		t.Fatalf("expected first forwarded entry, got %q", got)
	}
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"
	c.Request.Header.Set("X-Real-IP", "203.0.113.9")

	if got := ClientIP(c); got != "203.0.113.9" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
}

func TestClientIPFallsBackToCloudflareHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"
	c.Request.Header.Set("CF-Connecting-IP", "192.0.2.44")

	if got := ClientIP(c); got != "192.0.2.44" {
		t.Fatalf("expected CF-Connecting-IP, got %q", got)
	}
}

func TestClientIPUsesPeerAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"

	if got := ClientIP(c); got != "10.0.0.1" {
		t.Fatalf("expected the socket peer address, got %q", got)
	}
}

func TestEnrichContextGeneratesTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())

	var traceID string
	router.GET("/", func(c *gin.Context) {
		traceID = GetTraceID(c)
		c.Status(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if traceID == "" {
		t.Fatal("expected a generated trace id")
	}
	if got := rr.Header().Get(TraceIDHeader); got != traceID {
		t.Fatalf("expected trace id echoed in %s, got %q", TraceIDHeader, got)
	}
}

func TestEnrichContextPreservesIncomingTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-123")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get(TraceIDHeader); got != "trace-123" {
		t.Fatalf("expected the incoming trace id preserved, got %q", got)
	}
}
