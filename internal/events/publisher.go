package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"calmie/internal/config"
	"calmie/internal/session"
)

const (
	publishTimeout = 2 * time.Second
	streamMaxLen   = 1000
)

type Publisher struct {
	client *redis.Client
	stream string
	origin string
	log    zerolog.Logger
}

func NewPublisher(client *redis.Client, cfg config.EventsConfig, origin string, log zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: cfg.Stream,
		origin: origin,
		log:    log.With().Str("component", "events").Logger(),
	}
}

// Attach publishes every transition of store until the returned function is
// called.
func (p *Publisher) Attach(store *session.Store) (detach func()) {
	return store.Subscribe(func(snap session.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, snap); err != nil {
			p.log.Warn().Err(err).Str("state", snap.State.String()).Msg("publish session event failed")
		}
	})
}

func (p *Publisher) Publish(ctx context.Context, snap session.Snapshot) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: eventFromSnapshot(p.origin, snap).values(),
	}).Err()
}
