package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/staredown/internal/models"
)

type PlayerRepository struct {
	pool *pgxpool.Pool
}

func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

// UpsertPlayer creates the anonymous player row on first sight and bumps
// last_seen_at afterwards.
func (r *PlayerRepository) UpsertPlayer(ctx context.Context, id uuid.UUID) (models.PlayerRecord, error) {
	var p models.PlayerRecord
	q := `
		INSERT INTO players (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET last_seen_at = now()
		RETURNING id, created_at, last_seen_at
	`
	if err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.CreatedAt, &p.LastSeenAt); err != nil {
		return models.PlayerRecord{}, fmt.Errorf("upsert player %s: %w", id, err)
	}
	return p, nil
}
