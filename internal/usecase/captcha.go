package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/security"
	"github.com/Realm-101/Unbuilt-sub002/internal/repository"
)

const captchaTokenBytes = 32

// CaptchaService issues arithmetic challenges and redeems correct answers for
// single-use verification tokens. Answers are stored hashed; a leaked
// challenge row does not give the answer away.
type CaptchaService struct {
	cfg        *config.AppConfig
	challenges port.CaptchaRepository
	tokens     port.CaptchaTokenStore
	audit      port.AuditSink
	logger     *zap.Logger
	now        func() time.Time
}

// NewCaptchaService constructs a CaptchaService instance.
func NewCaptchaService(
	cfg *config.AppConfig,
	challenges port.CaptchaRepository,
	tokens port.CaptchaTokenStore,
	audit port.AuditSink,
	logger *zap.Logger,
) *CaptchaService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &CaptchaService{
		cfg:        cfg,
		challenges: challenges,
		tokens:     tokens,
		audit:      audit,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *CaptchaService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateChallenge issues a new arithmetic challenge. The answer hash is
// persisted; the plaintext answer is discarded after hashing.
func (s *CaptchaService) CreateChallenge(ctx context.Context) (*domain.CaptchaChallenge, error) {
	question, answer, err := buildArithmeticChallenge()
	if err != nil {
		return nil, fmt.Errorf("build challenge: %w", err)
	}

	answerHash, err := security.HashSecret(answer)
	if err != nil {
		return nil, fmt.Errorf("hash answer: %w", err)
	}

	now := s.now()
	challenge := domain.CaptchaChallenge{
		ID:          uuid.NewString(),
		Question:    question,
		AnswerHash:  answerHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl()),
		MaxAttempts: s.maxAttempts(),
	}

	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	return &challenge, nil
}

// Verify checks an answer against a live challenge. A correct answer consumes
// the challenge and returns a single-use verification token; wrong answers
// burn an attempt.
func (s *CaptchaService) Verify(ctx context.Context, challengeID, answer, ip string) (string, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return "", ErrCaptchaNotFound
	}

	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrCaptchaNotFound
		}
		return "", fmt.Errorf("get challenge: %w", err)
	}

	now := s.now()
	if challenge.IsExpired(now) {
		if err := s.challenges.Delete(ctx, challengeID); err != nil {
			s.logger.Warn("delete expired challenge failed", zap.String("challenge_id", challengeID), zap.Error(err))
		}
		return "", ErrCaptchaExpired
	}
	if challenge.AttemptsExhausted() {
		return "", ErrCaptchaAttemptsExceeded
	}

	correct, err := security.VerifySecret(normalizeAnswer(answer), challenge.AnswerHash)
	if err != nil {
		return "", fmt.Errorf("verify answer: %w", err)
	}

	if !correct {
		attempts, incErr := s.challenges.IncrementAttempts(ctx, challengeID)
		if incErr != nil {
			return "", fmt.Errorf("increment attempts: %w", incErr)
		}

		s.emit(ctx, domain.CaptchaFailedEvent{
			ChallengeID: challengeID,
			IP:          ip,
			Attempts:    attempts,
			At:          now,
		})

		if attempts >= challenge.MaxAttempts {
			return "", ErrCaptchaAttemptsExceeded
		}
		return "", ErrCaptchaIncorrect
	}

	consumed, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return "", fmt.Errorf("consume challenge: %w", err)
	}
	if !consumed {
		// Another request redeemed the challenge first.
		return "", ErrCaptchaNotFound
	}

	token, err := security.GenerateSecureToken(captchaTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}

	if err := s.tokens.Store(ctx, security.HashToken(token), challengeID, s.tokenTTL()); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	return token, nil
}

// ConsumeVerificationToken redeems a verification token. Exactly one caller
// observes true per token.
func (s *CaptchaService) ConsumeVerificationToken(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	return s.tokens.Consume(ctx, security.HashToken(token))
}

// CleanupExpired drops challenges past their expiry. Runs from a background
// sweep.
func (s *CaptchaService) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := s.challenges.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return deleted, nil
}

func (s *CaptchaService) emit(ctx context.Context, event domain.SecurityEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("record security event failed", zap.String("kind", event.Kind()), zap.Error(err))
	}
}

func (s *CaptchaService) ttl() time.Duration {
	if s.cfg != nil && s.cfg.Captcha.TTL > 0 {
		return s.cfg.Captcha.TTL
	}
	return 5 * time.Minute
}

func (s *CaptchaService) tokenTTL() time.Duration {
	if s.cfg != nil && s.cfg.Captcha.TokenTTL > 0 {
		return s.cfg.Captcha.TokenTTL
	}
	return 10 * time.Minute
}

func (s *CaptchaService) maxAttempts() int {
	if s.cfg != nil && s.cfg.Captcha.MaxAttempts > 0 {
		return s.cfg.Captcha.MaxAttempts
	}
	return 3
}

// buildArithmeticChallenge produces a simple addition or subtraction question
// with a non-negative answer.
func buildArithmeticChallenge() (question, answer string, err error) {
	a, err := randomInt(20)
	if err != nil {
		return "", "", err
	}
	b, err := randomInt(20)
	if err != nil {
		return "", "", err
	}
	op, err := randomInt(2)
	if err != nil {
		return "", "", err
	}

	a++
	b++
	if op == 0 {
		return fmt.Sprintf("What is %d + %d?", a, b), strconv.Itoa(a + b), nil
	}
	if a < b {
		a, b = b, a
	}
	return fmt.Sprintf("What is %d - %d?", a, b), strconv.Itoa(a - b), nil
}

func randomInt(max int64) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, fmt.Errorf("random int: %w", err)
	}
	return int(n.Int64()), nil
}

func normalizeAnswer(answer string) string {
	return strings.TrimSpace(answer)
}
