package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
)

// GameWriter is the durable sink the Recorder drains into.
type GameWriter interface {
	UpsertGame(ctx context.Context, rec models.GameRecord) error
}

// RecorderOptions tunes the write queue and its retry policy.
type RecorderOptions struct {
	Buffer          int
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	WriteTimeout    time.Duration
}

func (o *RecorderOptions) defaults() {
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 200 * time.Millisecond
	}
	if o.MaxElapsedTime <= 0 {
		o.MaxElapsedTime = time.Minute
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

// Recorder persists game records off the hot path. RecordGame only queues;
// Run writes them in order, retrying each with exponential backoff. A record
// that still fails when the backoff gives up is logged and dropped; the
// in-memory game is never rolled back.
type Recorder struct {
	writer GameWriter
	queue  chan models.GameRecord
	opts   RecorderOptions
	log    *logrus.Entry
}

func NewRecorder(w GameWriter, logger *logrus.Logger, opts RecorderOptions) *Recorder {
	opts.defaults()
	return &Recorder{
		writer: w,
		queue:  make(chan models.GameRecord, opts.Buffer),
		opts:   opts,
		log:    logger.WithField("component", "recorder"),
	}
}

// RecordGame queues rec without blocking.
func (r *Recorder) RecordGame(rec models.GameRecord) {
	select {
	case r.queue <- rec:
	default:
		r.log.WithFields(logrus.Fields{
			"game_id": rec.ID,
			"status":  rec.Status,
		}).Error("write queue full, game record dropped")
	}
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still queued with a single attempt each.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		case rec := <-r.queue:
			r.write(ctx, rec)
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec models.GameRecord) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialInterval
	policy.MaxElapsedTime = r.opts.MaxElapsedTime

	attempt := 0
	op := func() error {
		attempt++
		wctx, cancel := context.WithTimeout(ctx, r.opts.WriteTimeout)
		defer cancel()
		return r.writer.UpsertGame(wctx, rec)
	}
	notify := func(err error, wait time.Duration) {
		r.log.WithFields(logrus.Fields{
			"game_id": rec.ID,
			"attempt": attempt,
		}).Warnf("game write failed, retrying in %s: %v", wait, err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		r.log.WithFields(logrus.Fields{
			"game_id": rec.ID,
			"status":  rec.Status,
			"attempt": attempt,
		}).Errorf("giving up on game write: %v", err)
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.queue:
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
			if err := r.writer.UpsertGame(ctx, rec); err != nil {
				r.log.WithField("game_id", rec.ID).Errorf("game write lost on shutdown: %v", err)
			}
			cancel()
		default:
			return
		}
	}
}
