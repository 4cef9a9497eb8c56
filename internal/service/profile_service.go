package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"calmie/internal/api"
	"calmie/internal/media"
	"calmie/internal/session"
)

type ProfileService struct {
	api     *api.Client
	session *session.Store
	log     zerolog.Logger
}

func NewProfileService(client *api.Client, store *session.Store, log zerolog.Logger) *ProfileService {
	return &ProfileService{
		api:     client,
		session: store,
		log:     log.With().Str("component", "profile").Logger(),
	}
}

type ProfileInput struct {
	Username         string
	IntroductionText string
	IconFilename     string
	Icon             []byte
}

// Show fetches the signed-in user's page.
func (s *ProfileService) Show(ctx context.Context) (api.MyPage, error) {
	snap, err := s.session.Require()
	if err != nil {
		return api.MyPage{}, err
	}

	page, err := s.api.MyPage(ctx, snap.User.ID)
	if err != nil {
		return api.MyPage{}, s.checkExpired(ctx, err)
	}
	return page, nil
}

// Update saves the profile form, reads the result back and stores it in the
// session under the current token.
func (s *ProfileService) Update(ctx context.Context, input ProfileInput) (session.Profile, error) {
	snap, err := s.session.Require()
	if err != nil {
		return session.Profile{}, err
	}

	update := api.ProfileUpdate{
		Username:         input.Username,
		IntroductionText: input.IntroductionText,
	}
	if len(input.Icon) > 0 {
		icon, err := media.PrepareIcon(input.IconFilename, input.Icon)
		if err != nil {
			return session.Profile{}, err
		}
		update.Icon = toUpload(icon)
	}

	if err := s.api.UpdateProfile(ctx, snap.User.ID, update); err != nil {
		return session.Profile{}, s.checkExpired(ctx, err)
	}

	page, err := s.api.MyPage(ctx, snap.User.ID)
	if err != nil {
		return session.Profile{}, s.checkExpired(ctx, err)
	}

	profile := profileFromUser(page.User)
	profile.ID = snap.User.ID
	if err := s.session.UpdateProfile(ctx, profile); err != nil {
		return session.Profile{}, err
	}
	return profile, nil
}

// Sync refreshes the stored profile from the API. It reports whether the
// session changed.
func (s *ProfileService) Sync(ctx context.Context) (bool, error) {
	snap := s.session.Current()
	if !snap.Authenticated() {
		return false, nil
	}

	page, err := s.api.MyPage(ctx, snap.User.ID)
	if err != nil {
		return false, s.checkExpired(ctx, err)
	}

	profile := profileFromUser(page.User)
	profile.ID = snap.User.ID
	if profile == *snap.User {
		return false, nil
	}

	if err := s.session.UpdateProfile(ctx, profile); err != nil {
		return false, err
	}
	s.log.Info().Int64("user_id", profile.ID).Msg("profile refreshed from api")
	return true, nil
}

func (s *ProfileService) checkExpired(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		s.log.Warn().Err(err).Msg("token rejected, signing out")
		s.session.Logout(ctx)
		return ErrSessionExpired
	}
	return err
}
