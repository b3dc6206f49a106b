package middleware

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/telemetry"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

const (
	rateLimitProblemType  = "https://trust.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"

	ipBlockedProblemType  = "https://trust.example.com/errors/ip-blocked"
	ipBlockedProblemTitle = "Address Blocked"

	// CaptchaTokenHeader carries a verification token minted after a solved
	// challenge, clearing a captcha escalation.
	CaptchaTokenHeader = "X-Captcha-Token"
)

// KeyFunc extracts the identifier used to scope rate limits (e.g., client IP).
type KeyFunc func(*gin.Context) (string, bool)

// ClientIPKey scopes rate limits by the resolved client address.
func ClientIPKey() KeyFunc {
	return func(c *gin.Context) (string, bool) {
		ip := ClientIP(c)
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// RateLimit enforces the policy for requests scoped by key. Denials carry
// X-RateLimit-* metadata and an RFC 9457 body; captcha escalations tell the
// client to solve a challenge and retry with X-Captcha-Token.
func RateLimit(limiter *usecase.RateLimiter, policy domain.RateLimitPolicy, key KeyFunc, metrics *telemetry.Metrics, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	if key == nil {
		key = ClientIPKey()
	}

	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		identifier, ok := key(c)
		if !ok {
			c.Next()
			return
		}

		captchaToken := c.GetHeader(CaptchaTokenHeader)

		decision, err := limiter.Check(c.Request.Context(), identifier, policy, captchaToken)
		if err != nil {
			if errors.Is(err, usecase.ErrIPBlocked) {
				if metrics != nil {
					metrics.RateLimitDenials.WithLabelValues(policy.Name).Inc()
				}
				respondBlocked(c, decision)
				return
			}
			log.Warn("rate limit check failed", zap.String("policy", policy.Name), zap.Error(err))
			c.Next()
			return
		}

		applyRateLimitHeaders(c, decision)

		if decision.Allowed {
			c.Next()
			return
		}

		if metrics != nil {
			metrics.RateLimitDenials.WithLabelValues(policy.Name).Inc()
		}

		respondRateLimited(c, decision)
	}
}

func applyRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))
	if !decision.ResetAt.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}

	if !decision.Allowed && decision.RetryAfter > 0 {
		seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		headers.Set("Retry-After", strconv.Itoa(seconds))
	}
}

func respondRateLimited(c *gin.Context, decision domain.RateLimitDecision) {
	retrySeconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	detail := fmt.Sprintf("Too many requests. Try again in %d seconds.", retrySeconds)
	extensions := map[string]any{
		"escalation": string(decision.Escalation),
	}
	if decision.Escalation == domain.EscalationCaptcha {
		detail = "Too many requests. Solve a captcha challenge and retry with the X-Captcha-Token header."
		extensions["captcha_required"] = true
	}

	problem := ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
		Extensions: extensions,
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, problem)
}

func respondBlocked(c *gin.Context, decision domain.RateLimitDecision) {
	retrySeconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}
	if decision.RetryAfter > 0 {
		c.Writer.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := ProblemDetails{
		Type:       ipBlockedProblemType,
		Title:      ipBlockedProblemTitle,
		Status:     http.StatusForbidden,
		Detail:     "Requests from this address are blocked.",
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
		Extensions: map[string]any{"escalation": string(decision.Escalation)},
	}

	c.AbortWithStatusJSON(http.StatusForbidden, problem)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
