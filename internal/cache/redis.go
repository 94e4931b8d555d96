// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list carrying game lifecycle events to the historian.
const DefaultQueueName = "staredown_events"

// Connect opens a Redis client against addr and checks it with a ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes game events onto a Redis list. Emit queues in memory so
// callers on the game path never wait on the network; Run does the pushing.
type Publisher struct {
	rdb     *redis.Client
	queue   string
	pending chan models.GameEvent
	log     *logrus.Entry
}

func NewPublisher(rdb *redis.Client, queue string, logger *logrus.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{
		rdb:     rdb,
		queue:   queue,
		pending: make(chan models.GameEvent, 512),
		log:     logger.WithField("component", "publisher"),
	}
}

// Emit queues ev for publishing. A full buffer drops the event.
func (p *Publisher) Emit(ev models.GameEvent) {
	select {
	case p.pending <- ev:
	default:
		p.log.WithFields(logrus.Fields{"game_id": ev.GameID, "type": ev.Type}).Warn("event buffer full, dropped")
	}
}

// Run publishes queued events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.pending:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := p.Publish(pctx, ev); err != nil {
				p.log.WithField("game_id", ev.GameID).Warnf("publish event: %v", err)
			}
			cancel()
		}
	}
}

// Publish serializes ev and pushes it to the queue.
func (p *Publisher) Publish(ctx context.Context, ev models.GameEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal game event: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next event. It reports false when nothing
// arrived in time. Undecodable entries are returned as errors and discarded.
func (p *Publisher) Pop(ctx context.Context, timeout time.Duration) (models.GameEvent, bool, error) {
	res, err := p.rdb.BLPop(ctx, timeout, p.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.GameEvent{}, false, nil
		}
		return models.GameEvent{}, false, err
	}
	if len(res) < 2 {
		return models.GameEvent{}, false, nil
	}

	// res[0] is the list name and res[1] the payload
	var ev models.GameEvent
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		return models.GameEvent{}, false, fmt.Errorf("invalid event record: %w", err)
	}
	return ev, true, nil
}
