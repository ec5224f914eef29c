package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaham1/raftregatta/internal/game"
)

// PostgresRoundRepository implements game.RoundRepository using pgx.
// The single-open-round invariant is backed by a partial unique index on
// rounds(status) WHERE status = 'OPEN'.
type PostgresRoundRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRoundRepository creates a new PostgreSQL round repository
func NewPostgresRoundRepository(pool *pgxpool.Pool) *PostgresRoundRepository {
	return &PostgresRoundRepository{pool: pool}
}

const openRoundQuery = `
	SELECT id, item_image_id, status, start_time, end_time
	FROM rounds
	WHERE status = 'OPEN'
`

// GetOpenRound retrieves the OPEN round, or (nil, nil) if none
func (r *PostgresRoundRepository) GetOpenRound(ctx context.Context) (*game.Round, error) {
	return scanRound(r.pool.QueryRow(ctx, openRoundQuery))
}

// GetOpenRoundForUpdate retrieves the OPEN round and takes a FOR UPDATE lock
// on its row. Settlement and bid inserts serialize on this lock.
func (r *PostgresRoundRepository) GetOpenRoundForUpdate(ctx context.Context, tx pgx.Tx) (*game.Round, error) {
	return scanRound(tx.QueryRow(ctx, openRoundQuery+" FOR UPDATE"))
}

// LockOpenRoundShared takes a FOR SHARE lock on the OPEN round row, blocking
// a concurrent settlement without blocking other bid inserts
func (r *PostgresRoundRepository) LockOpenRoundShared(ctx context.Context, tx pgx.Tx) (*game.Round, error) {
	return scanRound(tx.QueryRow(ctx, openRoundQuery+" FOR SHARE"))
}

func scanRound(row pgx.Row) (*game.Round, error) {
	var (
		round  game.Round
		status string
	)
	err := row.Scan(
		&round.ID,
		&round.ItemImageID,
		&status,
		&round.StartTime,
		&round.EndTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	round.Status = game.RoundStatus(status)
	return &round, nil
}

// CreateRound creates a new round within a transaction
func (r *PostgresRoundRepository) CreateRound(ctx context.Context, tx pgx.Tx, round *game.Round) error {
	query := `
		INSERT INTO rounds (id, item_image_id, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Exec(ctx, query,
		round.ID,
		round.ItemImageID,
		string(round.Status),
		round.StartTime,
		round.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

// CloseRound marks an OPEN round CLOSED and stamps its end time.
// The status guard makes settlement idempotent: a round already closed by a
// concurrent transaction reports false instead of settling twice.
func (r *PostgresRoundRepository) CloseRound(ctx context.Context, tx pgx.Tx, roundID uuid.UUID, endTime time.Time) (bool, error) {
	query := `
		UPDATE rounds
		SET status = 'CLOSED', end_time = $2
		WHERE id = $1 AND status = 'OPEN'
	`
	result, err := tx.Exec(ctx, query, roundID, endTime)
	if err != nil {
		return false, fmt.Errorf("failed to close round: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetCurrentRoundView retrieves the team-facing projection of the OPEN round,
// or (nil, nil) if none
func (r *PostgresRoundRepository) GetCurrentRoundView(ctx context.Context) (*game.CurrentRoundView, error) {
	query := `
		SELECT r.id, i.image_data, r.start_time, r.status
		FROM rounds r
		JOIN item_images i ON i.id = r.item_image_id
		WHERE r.status = 'OPEN'
	`
	var (
		view   game.CurrentRoundView
		status string
	)
	err := r.pool.QueryRow(ctx, query).Scan(
		&view.RoundID,
		&view.ImageData,
		&view.StartTime,
		&status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current round: %w", err)
	}
	view.Status = game.RoundStatus(status)
	return &view, nil
}
