package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

// ErrNotAuthenticated is returned by operations that need a session.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthService runs the OTP login flow and keeps the session installed on the
// backend client and mirrored in local state for silent restore.
type AuthService struct {
	client  *backend.Client
	state   *StateService
	emitter *event.Emitter
	logger  *slog.Logger

	mu      sync.RWMutex
	session *backend.Session
}

// NewAuthService creates the service; call Restore once at startup.
func NewAuthService(client *backend.Client, state *StateService, emitter *event.Emitter) *AuthService {
	return &AuthService{
		client:  client,
		state:   state,
		emitter: emitter,
		logger:  utils.GetLogger(),
	}
}

// Restore reinstalls a previously persisted session, if any.
func (s *AuthService) Restore() error {
	session, err := s.state.LoadSession()
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	s.client.SetSessionToken(session.Token)
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	s.logger.Info("session restored", "user_id", session.UserID)
	s.emitter.Emit(event.SessionChangedEvent{UserID: session.UserID})
	return nil
}

// RequestCode asks the backend to email a one-time login code.
func (s *AuthService) RequestCode(ctx context.Context, email string) error {
	return s.client.RequestCode(ctx, email)
}

// VerifyCode exchanges the emailed code for a session and persists it.
func (s *AuthService) VerifyCode(ctx context.Context, email, code string) (*backend.Session, error) {
	session, err := s.client.VerifyCode(ctx, email, code)
	if err != nil {
		return nil, err
	}
	if err := s.state.SaveSession(session); err != nil {
		s.logger.Warn("session not persisted locally", "error", err)
	}
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	s.emitter.Emit(event.SessionChangedEvent{UserID: session.UserID})
	return session, nil
}

// Logout drops the session locally. The backend token simply expires.
func (s *AuthService) Logout() error {
	s.client.SetSessionToken("")
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	if err := s.state.ClearSession(); err != nil {
		return err
	}
	s.emitter.Emit(event.SessionChangedEvent{})
	return nil
}

// Session returns the current session, or nil when logged out.
func (s *AuthService) Session() *backend.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// Authenticated reports whether a session is installed.
func (s *AuthService) Authenticated() bool {
	return s.Session() != nil
}
