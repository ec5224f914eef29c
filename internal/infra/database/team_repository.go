package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shaham1/raftregatta/internal/auth"
	"github.com/shaham1/raftregatta/internal/game"
)

// PostgresTeamRepository implements game.TeamRepository using pgx
type PostgresTeamRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTeamRepository creates a new PostgreSQL team repository
func NewPostgresTeamRepository(pool *pgxpool.Pool) *PostgresTeamRepository {
	return &PostgresTeamRepository{pool: pool}
}

// GetTeamByAPIKey resolves an API key to a team via its stored digest.
// Returns (nil, nil) when no team holds the key.
func (r *PostgresTeamRepository) GetTeamByAPIKey(ctx context.Context, apiKey string) (*game.Team, error) {
	query := `
		SELECT team_no, team_name, budget::text, created_at
		FROM teams
		WHERE api_key_digest = $1
	`
	var (
		team      game.Team
		budgetStr string
	)
	err := r.pool.QueryRow(ctx, query, auth.DigestAPIKey(apiKey)).Scan(
		&team.TeamNo,
		&team.TeamName,
		&budgetStr,
		&team.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	budget, err := decimal.NewFromString(budgetStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse team budget: %w", err)
	}
	team.Budget = budget
	return &team, nil
}

// DeductBudget decrements a team's budget within a transaction.
// No floor is applied here: the balance may go negative by design.
func (r *PostgresTeamRepository) DeductBudget(ctx context.Context, tx pgx.Tx, teamNo int64, amount decimal.Decimal) error {
	query := `
		UPDATE teams
		SET budget = budget - $1::numeric
		WHERE team_no = $2
	`
	result, err := tx.Exec(ctx, query, amount.String(), teamNo)
	if err != nil {
		return fmt.Errorf("failed to deduct budget: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("team %d not found", teamNo)
	}
	return nil
}
