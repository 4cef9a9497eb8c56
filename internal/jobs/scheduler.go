package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"calmie/internal/config"
)

const syncTimeout = 30 * time.Second

// Syncer refreshes the local session from the API.
type Syncer interface {
	Sync(ctx context.Context) (bool, error)
}

type Scheduler struct {
	cron   *cron.Cron
	cfg    config.SyncConfig
	syncer Syncer
	log    zerolog.Logger
}

func NewScheduler(cfg config.SyncConfig, syncer Syncer, log zerolog.Logger) *Scheduler {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:   c,
		cfg:    cfg,
		syncer: syncer,
		log:    log.With().Str("component", "jobs").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled || s.syncer == nil {
		s.log.Debug().Msg("profile sync disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.syncProfile); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Msg("profile sync scheduled")
	return nil
}

// Stop halts the schedule. The returned context is done once a sync that is
// already running has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) syncProfile() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	changed, err := s.syncer.Sync(ctx)
	if err != nil {
		event := s.log.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			event = s.log.Warn()
		}
		event.Err(err).Msg("profile sync failed")
		return
	}
	if changed {
		s.log.Info().Msg("profile sync applied remote changes")
	}
}
