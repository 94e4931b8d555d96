package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/staredown/internal/models"
)

// EventRepository appends to the game_events history table.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// InsertEvent stores ev. Inserting the same event id twice is a no-op.
func (r *EventRepository) InsertEvent(ctx context.Context, ev models.GameEvent) error {
	return r.InsertEvents(ctx, []models.GameEvent{ev})
}

// InsertEvents stores a batch of events in one transaction.
func (r *EventRepository) InsertEvents(ctx context.Context, evs []models.GameEvent) error {
	q := `
		INSERT INTO game_events (id, game_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range evs {
			var payload []byte
			if len(ev.Payload) > 0 {
				payload = ev.Payload
			}
			if _, err := tx.Exec(ctx, q, ev.ID, ev.GameID, string(ev.Type), payload, ev.CreatedAt); err != nil {
				return fmt.Errorf("insert game event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %d game events: %w", len(evs), err)
	}
	return nil
}

// CountEvents returns how many events are stored for gameID.
func (r *EventRepository) CountEvents(ctx context.Context, gameID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM game_events WHERE game_id = $1`, gameID).Scan(&n)
	return n, err
}
