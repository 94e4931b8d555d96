// internal/database/game.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/staredown/internal/models"
)

// GameRepository reads and writes rows of the games table.
type GameRepository struct {
	pool *pgxpool.Pool
}

func NewGameRepository(pool *pgxpool.Pool) *GameRepository {
	return &GameRepository{pool: pool}
}

// UpsertGame inserts the game or updates its terminal fields. A row that has
// already left PLAYING is never changed again, so replays and late retries
// cannot move a finished game.
func (r *GameRepository) UpsertGame(ctx context.Context, rec models.GameRecord) error {
	q := `
		INSERT INTO games (id, player1_id, player2_id, status, winner_id, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, winner_id = EXCLUDED.winner_id, ended_at = EXCLUDED.ended_at
		WHERE games.status = 'PLAYING'
	`
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			rec.ID, rec.Player1ID, rec.Player2ID, string(rec.Status),
			rec.WinnerID, rec.StartedAt, rec.EndedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", rec.ID, err)
	}
	return nil
}

// GetGame loads the durable record of gameID.
func (r *GameRepository) GetGame(ctx context.Context, gameID uuid.UUID) (models.GameRecord, error) {
	var (
		rec    models.GameRecord
		status string
	)
	q := `
		SELECT id, player1_id, player2_id, status, winner_id, started_at, ended_at
		FROM games
		WHERE id = $1
	`
	err := r.pool.QueryRow(ctx, q, gameID).Scan(
		&rec.ID, &rec.Player1ID, &rec.Player2ID, &status,
		&rec.WinnerID, &rec.StartedAt, &rec.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GameRecord{}, ErrNotFound
		}
		return models.GameRecord{}, fmt.Errorf("get game %s: %w", gameID, err)
	}
	rec.Status = models.GameStatus(status)
	return rec, nil
}

// CancelStaleGames marks games that have been PLAYING for longer than
// olderThan as CANCELLED. Such rows are left behind when a server stops
// without resolving its live games.
func (r *GameRepository) CancelStaleGames(ctx context.Context, olderThan time.Duration) (int64, error) {
	q := `
		UPDATE games
		SET status = 'CANCELLED', ended_at = now()
		WHERE status = 'PLAYING' AND started_at < $1
	`
	tag, err := r.pool.Exec(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("cancel stale games: %w", err)
	}
	return tag.RowsAffected(), nil
}
