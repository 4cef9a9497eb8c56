package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Initializer re-reads the session from durable storage.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// SessionRefresher reloads the local session when another instance reports a
// transition.
type SessionRefresher struct {
	store  Initializer
	origin string
	log    zerolog.Logger
}

func NewSessionRefresher(store Initializer, origin string, log zerolog.Logger) *SessionRefresher {
	return &SessionRefresher{
		store:  store,
		origin: origin,
		log:    log.With().Str("component", "events").Logger(),
	}
}

func (r *SessionRefresher) Handle(ctx context.Context, msg redis.XMessage) error {
	event, err := parseEvent(msg.Values)
	if err != nil {
		// Acknowledge garbage rather than retrying it forever.
		r.log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed session event")
		return nil
	}
	if event.Origin == r.origin {
		return nil
	}

	r.log.Debug().
		Str("from", event.Origin).
		Str("state", event.State).
		Int64("user_id", event.UserID).
		Msg("session changed elsewhere, reloading")
	if err := r.store.Initialize(ctx); err != nil {
		return fmt.Errorf("reload session: %w", err)
	}
	return nil
}
