package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"calmie/internal/api"
	"calmie/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired means the API rejected the stored token; the local
	// session has been cleared.
	ErrSessionExpired = errors.New("session expired")
)

// AuthService runs credential exchanges and applies their result to the
// session store.
type AuthService struct {
	api     *api.Client
	session *session.Store
	log     zerolog.Logger
}

func NewAuthService(client *api.Client, store *session.Store, log zerolog.Logger) *AuthService {
	return &AuthService{
		api:     client,
		session: store,
		log:     log.With().Str("component", "auth").Logger(),
	}
}

type LoginInput struct {
	Email    string
	Password string
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (session.Snapshot, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))

	resp, err := s.api.Login(ctx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return session.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return session.Snapshot{}, err
	}
	return s.apply(ctx, resp)
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (session.Snapshot, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))

	resp, err := s.api.Register(ctx, input.Email, input.Password, input.Username)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.apply(ctx, resp)
}

// OAuthLogin trades an identity provider ID token for a calmie session.
func (s *AuthService) OAuthLogin(ctx context.Context, idToken string) (session.Snapshot, error) {
	resp, err := s.api.OAuthLogin(ctx, idToken)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return session.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return session.Snapshot{}, err
	}
	return s.apply(ctx, resp)
}

func (s *AuthService) Logout(ctx context.Context) {
	s.session.Logout(ctx)
}

func (s *AuthService) apply(ctx context.Context, resp api.AuthResponse) (session.Snapshot, error) {
	if err := s.session.Login(ctx, resp.Token, profileFromUser(resp.User)); err != nil {
		s.log.Error().Err(err).Int64("user_id", resp.User.ID).Msg("apply credential exchange failed")
		return session.Snapshot{}, err
	}
	return s.session.Current(), nil
}

func profileFromUser(u api.User) session.Profile {
	return session.Profile{
		ID:               u.ID,
		Username:         u.Username,
		IconURL:          u.UserIcon,
		IntroductionText: u.IntroductionText,
	}
}
