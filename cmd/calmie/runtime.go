package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"calmie/internal/api"
	"calmie/internal/config"
	"calmie/internal/events"
	"calmie/internal/ids"
	"calmie/internal/log"
	"calmie/internal/session"
	"calmie/internal/storage"
)

// runtime is everything a command needs, built once per invocation.
type runtime struct {
	cfg     *config.AppConfig
	log     zerolog.Logger
	origin  string
	backend storage.Backend
	store   *session.Store
	client  *api.Client
	events  *redis.Client

	closers []func()
}

func action(fn func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(c, rt)
	}
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)
	rt := &runtime{
		cfg:    cfg,
		log:    logger,
		origin: ids.New(),
	}
	ctx := c.Context

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		if !errors.Is(err, storage.ErrUnavailable) {
			return nil, err
		}
		logger.Warn().Err(err).Str("driver", cfg.Storage.Driver).Msg("storage unavailable, sign-in will not persist")
		backend = storage.Disabled{Reason: err}
	}
	rt.backend = backend
	rt.closers = append(rt.closers, func() {
		if err := backend.Close(); err != nil {
			logger.Error().Err(err).Msg("close storage failed")
		}
	})

	rt.store = session.New(backend, session.WithLogger(logger))
	if err := rt.store.Initialize(ctx); err != nil {
		rt.close()
		return nil, err
	}

	rt.client, err = api.New(cfg.API, rt.store, api.WithLogger(logger))
	if err != nil {
		rt.close()
		return nil, err
	}

	if cfg.Events.Enabled {
		if err := rt.attachEvents(ctx); err != nil {
			logger.Warn().Err(err).Msg("session events disabled")
		}
	}
	return rt, nil
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if driver := c.String("storage"); driver != "" {
		cfg.Storage.Driver = driver
		if driver == "file" && cfg.Storage.File.Path == "" {
			if cfg.Storage.File.Path, err = config.DefaultStoragePath(); err != nil {
				return nil, err
			}
		}
	}
	if u := c.String("api-url"); u != "" {
		cfg.API.BaseURL = u
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

// attachEvents publishes this instance's transitions. It reuses the storage
// connection when the session already lives in redis.
func (rt *runtime) attachEvents(ctx context.Context) error {
	if r, ok := rt.backend.(*storage.Redis); ok {
		rt.events = r.Client()
	} else {
		client, err := storage.NewRedisClient(ctx, rt.cfg.Storage.Redis)
		if err != nil {
			return err
		}
		rt.events = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}

	detach := events.NewPublisher(rt.events, rt.cfg.Events, rt.origin, rt.log).Attach(rt.store)
	rt.closers = append(rt.closers, detach)
	return nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
