// Package historian copies game lifecycle events from the Redis queue into
// the game_events table and cancels games a crashed server left PLAYING.
package historian

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued events. Pop reports false when nothing arrived before timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (models.GameEvent, bool, error)
}

// EventStore persists a batch of events atomically.
type EventStore interface {
	InsertEvents(ctx context.Context, evs []models.GameEvent) error
}

// StaleGameSweeper closes games that have been live for too long.
type StaleGameSweeper interface {
	CancelStaleGames(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Options tunes batching and the stale-game sweep. Zero values select defaults.
type Options struct {
	BatchSize     int
	FlushDelay    time.Duration
	PopTimeout    time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// MaxPending caps the events held in memory while the store is failing.
	// At the cap the service stops popping, so the rest wait in Redis.
	MaxPending int
	// RetryInitial and RetryMax bound the pause after a failed pop or flush.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (o *Options) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = 500 * time.Millisecond
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = 3 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.MaxPending < o.BatchSize {
		o.MaxPending = 50 * o.BatchSize
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 100 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 10 * time.Second
	}
}

type Service struct {
	source  Source
	store   EventStore
	sweeper StaleGameSweeper // optional
	opts    Options
	log     *logrus.Entry
	retry   *backoff.ExponentialBackOff

	batch     []models.GameEvent
	lastFlush time.Time
}

func New(source Source, store EventStore, sweeper StaleGameSweeper, logger *logrus.Logger, opts Options) *Service {
	opts.defaults()
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = opts.RetryInitial
	retry.MaxInterval = opts.RetryMax
	retry.MaxElapsedTime = 0 // never give up; the loop runs until shutdown
	return &Service{
		source:  source,
		store:   store,
		sweeper: sweeper,
		opts:    opts,
		log:     logger.WithField("component", "historian"),
		retry:   retry,
		batch:   make([]models.GameEvent, 0, opts.BatchSize),
	}
}

// Run consumes events until ctx is cancelled, flushing the final partial batch.
func (s *Service) Run(ctx context.Context) error {
	if s.sweeper != nil {
		go s.sweepLoop(ctx)
	}
	s.log.Info("historian started")
	s.lastFlush = time.Now()

	for {
		if ctx.Err() != nil {
			s.flush(context.Background())
			s.log.Info("historian shutting down")
			return ctx.Err()
		}

		if len(s.batch) >= s.opts.MaxPending {
			if err := s.flush(ctx); err != nil {
				s.pause(ctx)
			}
			continue
		}

		ev, ok, err := s.source.Pop(ctx, s.opts.PopTimeout)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Errorf("pop event: %v", err)
				s.pause(ctx)
			}
			continue
		}
		s.retry.Reset()
		if ok {
			s.batch = append(s.batch, ev)
		}

		if len(s.batch) >= s.opts.BatchSize || time.Since(s.lastFlush) >= s.opts.FlushDelay {
			s.flush(ctx)
		}
	}
}

// flush writes the pending batch. A failed batch is kept for the next flush.
func (s *Service) flush(ctx context.Context) error {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.store.InsertEvents(ctx, s.batch); err != nil {
		s.log.Errorf("flush %d events: %v", len(s.batch), err)
		return err
	}
	s.log.Debugf("flushed %d events", len(s.batch))
	s.batch = s.batch[:0]
	s.retry.Reset()
	return nil
}

// pause waits out the next retry interval or until ctx is done.
func (s *Service) pause(ctx context.Context) {
	t := time.NewTimer(s.retry.NextBackOff())
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweeper.CancelStaleGames(ctx, s.opts.StaleAfter)
			if err != nil {
				s.log.Errorf("stale game sweep: %v", err)
				continue
			}
			if n > 0 {
				s.log.Infof("cancelled %d stale games", n)
			}
		}
	}
}
