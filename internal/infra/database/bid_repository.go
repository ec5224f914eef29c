package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shaham1/raftregatta/internal/game"
)

// Postgres error code for unique constraint violations
const uniqueViolationCode = "23505"

// PostgresBidRepository implements game.BidRepository using pgx
type PostgresBidRepository struct {
	pool *pgxpool.Pool // kept for read-only operations
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

// SaveBid appends a bid within a transaction. A conflict on the
// (round_id, team_no) unique constraint surfaces as game.ErrDuplicateBid.
func (r *PostgresBidRepository) SaveBid(ctx context.Context, tx pgx.Tx, bid *game.Bid) error {
	query := `
		INSERT INTO bids (id, round_id, team_no, team_name, item, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
	`
	_, err := tx.Exec(ctx, query,
		bid.ID,
		bid.RoundID,
		bid.TeamNo,
		bid.TeamName,
		bid.Item,
		bid.Amount.String(),
		bid.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return game.ErrDuplicateBid
		}
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// ListRoundBids retrieves all bids for a round within a transaction, ordered
// by creation time ascending so the earliest bid wins amount ties
func (r *PostgresBidRepository) ListRoundBids(ctx context.Context, tx pgx.Tx, roundID uuid.UUID) ([]*game.Bid, error) {
	query := `
		SELECT id, round_id, team_no, team_name, item, amount::text, created_at
		FROM bids
		WHERE round_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := tx.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query round bids: %w", err)
	}
	return collectBids(rows)
}

// GetBidsForRound retrieves all bids for a round, most recent first
func (r *PostgresBidRepository) GetBidsForRound(ctx context.Context, roundID uuid.UUID) ([]*game.Bid, error) {
	query := `
		SELECT id, round_id, team_no, team_name, item, amount::text, created_at
		FROM bids
		WHERE round_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	return collectBids(rows)
}

// GetHistoricalBids retrieves all bids belonging to CLOSED rounds
func (r *PostgresBidRepository) GetHistoricalBids(ctx context.Context) ([]*game.Bid, error) {
	query := `
		SELECT b.id, b.round_id, b.team_no, b.team_name, b.item, b.amount::text, b.created_at
		FROM bids b
		JOIN rounds r ON r.id = b.round_id
		WHERE r.status = 'CLOSED'
		ORDER BY b.created_at DESC, b.id DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical bids: %w", err)
	}
	return collectBids(rows)
}

func collectBids(rows pgx.Rows) ([]*game.Bid, error) {
	defer rows.Close()

	result := []*game.Bid{}
	for rows.Next() {
		var (
			bid       game.Bid
			amountStr string
		)
		if err := rows.Scan(
			&bid.ID,
			&bid.RoundID,
			&bid.TeamNo,
			&bid.TeamName,
			&bid.Item,
			&amountStr,
			&bid.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bid amount: %w", err)
		}
		bid.Amount = amount
		result = append(result, &bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return result, nil
}
