package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/security"
	"github.com/Realm-101/Unbuilt-sub002/internal/repository"
)

const refreshTokenBytes = 32

// RevocationStore caches chain revocation so access-token validation can deny
// without a database round trip. Postgres stays authoritative; the cache only
// fast-paths denials.
type RevocationStore interface {
	MarkChainRevoked(ctx context.Context, chainID string, ttl time.Duration) error
	IsChainRevoked(ctx context.Context, chainID string) (bool, error)
}

// TokenService issues, rotates, validates, and revokes token pairs. A refresh
// chain groups every rotation descended from one login; replaying a rotated
// token surfaces as *TokenReuseError so callers can treat the chain as
// compromised.
type TokenService struct {
	cfg         *config.AppConfig
	jwt         *security.JWTManager
	tokens      port.TokenRepository
	revocations RevocationStore
	logger      *zap.Logger
	now         func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(
	cfg *config.AppConfig,
	jwtManager *security.JWTManager,
	tokens port.TokenRepository,
	revocations RevocationStore,
	logger *zap.Logger,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &TokenService{
		cfg:         cfg,
		jwt:         jwtManager,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue creates a fresh token pair on a new refresh chain.
func (s *TokenService) Issue(ctx context.Context, userID string, device domain.DeviceInfo) (*domain.TokenPair, error) {
	pair, _, err := s.issue(ctx, userID, device, 0)
	return pair, err
}

// IssueWithLimit creates a token pair while enforcing the concurrent-session
// cap, returning any chains evicted to make room.
func (s *TokenService) IssueWithLimit(ctx context.Context, userID string, device domain.DeviceInfo, maxActive int) (*domain.TokenPair, []domain.RefreshToken, error) {
	return s.issue(ctx, userID, device, maxActive)
}

func (s *TokenService) issue(ctx context.Context, userID string, device domain.DeviceInfo, maxActive int) (*domain.TokenPair, []domain.RefreshToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, fmt.Errorf("user id is required")
	}

	now := s.now()
	chainID := uuid.NewString()

	record, secret, err := s.newRefreshToken(userID, chainID, device, now)
	if err != nil {
		return nil, nil, err
	}

	var evicted []domain.RefreshToken
	if maxActive > 0 {
		evicted, err = s.tokens.CreateWithLimit(ctx, record, maxActive)
	} else {
		err = s.tokens.Create(ctx, record)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store refresh token: %w", err)
	}

	for _, old := range evicted {
		s.cacheRevokedChain(ctx, old.ChainID)
	}

	pair, err := s.buildPair(userID, record, secret, now)
	if err != nil {
		return nil, nil, err
	}

	return pair, evicted, nil
}

// Rotate exchanges a refresh token for a new pair on the same chain. Exactly
// one concurrent caller wins; losers and replays of already-rotated tokens
// get *TokenReuseError.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	current, err := s.tokens.GetByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	now := s.now()
	if current.IsRevoked() {
		return nil, &TokenReuseError{UserID: current.UserID, TokenID: current.ID, ChainID: current.ChainID}
	}
	if current.IsExpired(now) {
		return nil, ErrExpiredToken
	}

	next, secret, err := s.newRefreshToken(current.UserID, current.ChainID, domain.DeviceInfo{
		DeviceID:    current.DeviceID,
		DeviceLabel: current.DeviceLabel,
		IP:          current.IP,
		UserAgent:   current.UserAgent,
	}, now)
	if err != nil {
		return nil, err
	}

	rotated, err := s.tokens.Rotate(ctx, current.ID, "rotation", next)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		// Lost the race: someone already rotated this token.
		return nil, &TokenReuseError{UserID: current.UserID, TokenID: current.ID, ChainID: current.ChainID}
	}

	return s.buildPair(current.UserID, next, secret, now)
}

// ValidateAccessToken verifies signature and expiry offline, then checks that
// the issuing chain is still active.
func (s *TokenService) ValidateAccessToken(ctx context.Context, token string) (*security.AccessTokenClaims, error) {
	claims, err := s.parseAccessToken(token)
	if err != nil {
		return nil, err
	}

	if claims.ChainID == "" {
		return claims, nil
	}

	if s.revocations != nil {
		revoked, cacheErr := s.revocations.IsChainRevoked(ctx, claims.ChainID)
		if cacheErr != nil {
			s.logger.Warn("revocation cache check failed", zap.String("chain_id", claims.ChainID), zap.Error(cacheErr))
		} else if revoked {
			return nil, ErrRevokedToken
		}
	}

	active, err := s.tokens.IsChainActive(ctx, claims.ChainID)
	if err != nil {
		return nil, fmt.Errorf("check chain active: %w", err)
	}
	if !active {
		s.cacheRevokedChain(ctx, claims.ChainID)
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// ValidateRefreshToken checks a refresh token without rotating it.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, refreshToken string) (*domain.RefreshToken, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	record, err := s.tokens.GetByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	now := s.now()
	if record.IsRevoked() {
		return nil, ErrRevokedToken
	}
	if record.IsExpired(now) {
		return nil, ErrExpiredToken
	}

	return record, nil
}

// RevokeChain revokes every token in a chain and returns the affected count.
func (s *TokenService) RevokeChain(ctx context.Context, chainID, revokedBy string) (int, error) {
	chainID = strings.TrimSpace(chainID)
	if chainID == "" {
		return 0, fmt.Errorf("chain id is required")
	}

	count, err := s.tokens.RevokeChain(ctx, chainID, revokedBy)
	if err != nil {
		return 0, fmt.Errorf("revoke chain: %w", err)
	}

	s.cacheRevokedChain(ctx, chainID)
	return count, nil
}

// RevokeAllForUser revokes every chain the user holds and returns their ids.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID, revokedBy string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	chains, err := s.tokens.RevokeAllForUser(ctx, userID, revokedBy)
	if err != nil {
		return nil, fmt.Errorf("revoke all for user: %w", err)
	}

	for _, chainID := range chains {
		s.cacheRevokedChain(ctx, chainID)
	}
	return chains, nil
}

// RevokeAllForUserExcept revokes every chain except the one the caller is
// using, which password changes rely on.
func (s *TokenService) RevokeAllForUserExcept(ctx context.Context, userID, keepChainID, revokedBy string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	chains, err := s.tokens.RevokeAllForUserExcept(ctx, userID, keepChainID, revokedBy)
	if err != nil {
		return nil, fmt.Errorf("revoke all for user except: %w", err)
	}

	for _, chainID := range chains {
		s.cacheRevokedChain(ctx, chainID)
	}
	return chains, nil
}

func (s *TokenService) newRefreshToken(userID, chainID string, device domain.DeviceInfo, now time.Time) (domain.RefreshToken, string, error) {
	secret, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return domain.RefreshToken{}, "", fmt.Errorf("generate refresh token: %w", err)
	}

	record := domain.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChainID:     chainID,
		TokenHash:   security.HashToken(secret),
		DeviceID:    device.DeviceID,
		DeviceLabel: device.DeviceLabel,
		IP:          device.IP,
		UserAgent:   device.UserAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.refreshTokenTTL()),
	}

	return record, secret, nil
}

func (s *TokenService) buildPair(userID string, record domain.RefreshToken, secret string, now time.Time) (*domain.TokenPair, error) {
	claims, err := security.NewAccessTokenClaims(security.AccessTokenOptions{
		UserID:   userID,
		ChainID:  record.ChainID,
		Issuer:   s.issuer(),
		Audience: []string{s.issuer()},
		TTL:      s.accessTokenTTL(),
		IssuedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("build access token claims: %w", err)
	}

	signed, err := s.jwt.SignAccessToken(s.activeKID(), claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      signed,
		RefreshToken:     secret,
		RefreshTokenID:   record.ID,
		ChainID:          record.ChainID,
		AccessExpiresAt:  now.Add(s.accessTokenTTL()),
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *TokenService) parseAccessToken(token string) (*security.AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if s.jwt == nil {
		return nil, fmt.Errorf("jwt manager not configured")
	}

	claims := &security.AccessTokenClaims{}
	parserOptions := []jwt.ParserOption{
		jwt.WithIssuer(s.issuer()),
		jwt.WithAudience(s.issuer()),
	}
	if s.now != nil {
		parserOptions = append(parserOptions, jwt.WithTimeFunc(s.now))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		method, ok := t.Method.(*jwt.SigningMethodRSA)
		if !ok || method == nil {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, fmt.Errorf("kid header not found")
		}

		return s.jwt.GetVerificationKey(kid)
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *TokenService) cacheRevokedChain(ctx context.Context, chainID string) {
	if s.revocations == nil || chainID == "" {
		return
	}
	if err := s.revocations.MarkChainRevoked(ctx, chainID, s.accessTokenTTL()); err != nil {
		s.logger.Warn("cache revoked chain failed", zap.String("chain_id", chainID), zap.Error(err))
	}
}

func (s *TokenService) issuer() string {
	if s.cfg != nil {
		if name := strings.TrimSpace(s.cfg.App.Name); name != "" {
			return name
		}
	}
	return "trust-service"
}

func (s *TokenService) activeKID() string {
	if s.cfg != nil {
		if kid := strings.TrimSpace(s.cfg.JWT.ActiveKID); kid != "" {
			return kid
		}
	}
	return "primary"
}

func (s *TokenService) accessTokenTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.AccessTokenTTL > 0 {
		return s.cfg.JWT.AccessTokenTTL
	}
	return 15 * time.Minute
}

func (s *TokenService) refreshTokenTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.RefreshTokenTTL > 0 {
		return s.cfg.JWT.RefreshTokenTTL
	}
	return 168 * time.Hour
}
