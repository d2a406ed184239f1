package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DoyleJ11/matchstate/internal/engine"
)

const lookupQuery = `
	SELECT owner_id, hero_id, hero_ids, role, score, slot_index, status, updated_at
	FROM game_participants
	WHERE game_id = $1 AND owner_id = ANY($2)`

// PgLookup answers roster lookups from the game_participants table.
type PgLookup struct {
	pool *pgxpool.Pool
}

var _ engine.RosterLookup = (*PgLookup)(nil)

// Connect opens a pool for dbURL and verifies it with a ping.
func Connect(ctx context.Context, dbURL string) (*PgLookup, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("roster: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("roster: ping: %w", err)
	}
	return &PgLookup{pool: pool}, nil
}

func NewPgLookup(pool *pgxpool.Pool) *PgLookup {
	return &PgLookup{pool: pool}
}

func (l *PgLookup) LookupRoster(ctx context.Context, gameID string, ownerIDs []string) (engine.Roster, error) {
	if len(ownerIDs) == 0 {
		return engine.Roster{}, nil
	}
	rows, err := l.pool.Query(ctx, lookupQuery, gameID, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("roster: query: %w", err)
	}
	raw, err := pgx.CollectRows(rows, scanParticipant)
	if err != nil {
		return nil, fmt.Errorf("roster: scan: %w", err)
	}
	return engine.NormalizeRoster(raw), nil
}

func scanParticipant(row pgx.CollectableRow) (engine.Row, error) {
	var (
		owner     string
		hero      *string
		heroIDs   []string
		role      *string
		score     *int32
		slotIndex *int32
		status    *string
		updatedAt *time.Time
	)
	if err := row.Scan(&owner, &hero, &heroIDs, &role, &score, &slotIndex, &status, &updatedAt); err != nil {
		return nil, err
	}

	r := engine.Row{"owner_id": owner, "hero_ids": heroIDs}
	if hero != nil {
		r["hero_id"] = *hero
	}
	if role != nil {
		r["role"] = *role
	}
	if score != nil {
		r["score"] = int(*score)
	}
	if slotIndex != nil {
		r["slot_index"] = int(*slotIndex)
	}
	if status != nil {
		r["status"] = *status
	}
	if updatedAt != nil {
		r["updated_at"] = *updatedAt
	}
	return r, nil
}

func (l *PgLookup) Close() error {
	l.pool.Close()
	return nil
}
