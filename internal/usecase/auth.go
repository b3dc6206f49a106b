package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/logger"
)

// AuthService orchestrates login, refresh, and logout across the credential
// verifier, the lockout state machine, and session issuance. Rate limiting
// happens in front of it, at the transport layer.
type AuthService struct {
	credentials port.CredentialVerifier
	sessions    *SessionManager
	events      *SecurityEventHandler
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	credentials port.CredentialVerifier,
	sessions *SessionManager,
	events *SecurityEventHandler,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}

	service := &AuthService{
		credentials: credentials,
		sessions:    sessions,
		events:      events,
		logger:      log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// Login authenticates the identifier and opens a session. Lockout is checked
// before credentials so a locked account leaks nothing about the password.
func (s *AuthService) Login(ctx context.Context, identifier, password string, device domain.DeviceInfo) (*domain.TokenPair, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	locked, _, err := s.events.IsLocked(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrAccountLocked
	}

	ip := ipString(device)

	userID, ok, err := s.credentials.Verify(ctx, identifier, password)
	if err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	if !ok {
		state, failErr := s.events.OnFailedLogin(ctx, identifier, ip)
		if failErr != nil {
			s.logger.Error("record failed login", zap.String("identifier", logger.MaskIdentifier(identifier)), zap.Error(failErr))
		}
		if state.IsLocked(s.now(), s.events.threshold()) {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.events.OnSuccessfulLogin(ctx, userID, identifier, ip); err != nil {
		s.logger.Error("record successful login", zap.String("user_id", userID), zap.Error(err))
	}

	pair, _, err := s.sessions.CreateSession(ctx, userID, device)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh rotates a refresh token. Replay of a rotated token revokes every
// session the user holds before the error is surfaced.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (*domain.TokenPair, error) {
	pair, err := s.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		var reuse *TokenReuseError
		if errors.As(err, &reuse) {
			if handleErr := s.events.OnTokenReuse(ctx, reuse, ip); handleErr != nil {
				s.logger.Error("handle token reuse", zap.String("user_id", reuse.UserID), zap.Error(handleErr))
			}
		}
		return nil, err
	}

	s.sessions.Touch(ctx, pair.RefreshTokenID)
	return pair, nil
}

// Logout terminates the session the refresh token belongs to. An already
// invalid token still logs the caller out.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	record, err := s.sessions.tokens.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrRevokedToken) {
			return nil
		}
		return err
	}

	return s.sessions.InvalidateSession(ctx, record.UserID, record.ChainID, "user", "logout")
}

func ipString(device domain.DeviceInfo) string {
	if device.IP != nil {
		return *device.IP
	}
	return ""
}
