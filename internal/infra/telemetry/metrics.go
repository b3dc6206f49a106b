package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trust"

// Metrics bundles the Prometheus collectors exposed by the service.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	RateLimitDenials  *prometheus.CounterVec
	LockoutsTotal     prometheus.Counter
	TokenReuseTotal   prometheus.Counter
	SessionsEvicted   prometheus.Counter
	CaptchaChallenges prometheus.Counter
	CaptchaFailures   prometheus.Counter
}

// NewMetrics registers the service collectors on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RateLimitDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Requests denied by the rate limiter",
		}, []string{"policy"}),
		LockoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after failed login attempts",
		}),
		TokenReuseTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_reuse_detected_total",
			Help:      "Replays of rotated refresh tokens",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions evicted by the concurrent-session cap",
		}),
		CaptchaChallenges: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captcha_challenges_total",
			Help:      "Captcha challenges issued",
		}),
		CaptchaFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captcha_failures_total",
			Help:      "Wrong captcha answers",
		}),
	}
}
