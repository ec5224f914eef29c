package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaham1/raftregatta/internal/game"
)

// PostgresCatalogRepository implements game.CatalogRepository using pgx
type PostgresCatalogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogRepository creates a new PostgreSQL catalog repository
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{pool: pool}
}

// PickRandomImage selects uniformly at random among images matching the
// filter. ORDER BY random() is uniform over the candidate set at call time.
// Returns (nil, nil) when the candidate set is empty.
func (r *PostgresCatalogRepository) PickRandomImage(ctx context.Context, tx pgx.Tx, filter game.SelectionFilter) (*game.SelectedImage, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT i.id, i.category_id, c.name
		FROM item_images i
		JOIN categories c ON c.id = i.category_id
	`)

	var (
		clauses []string
		args    []any
	)
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		clauses = append(clauses, "i.category_id = $"+strconv.Itoa(len(args)))
	}
	if filter.ExcludeUsed {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM rounds r WHERE r.item_image_id = i.id)")
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	sb.WriteString(" ORDER BY random() LIMIT 1")

	var selected game.SelectedImage
	err := tx.QueryRow(ctx, sb.String(), args...).Scan(
		&selected.ImageID,
		&selected.CategoryID,
		&selected.CategoryName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pick image: %w", err)
	}
	return &selected, nil
}

// GetCategoryNameForImage resolves an image to its category name.
// Returns ("", nil) when the linkage is broken.
func (r *PostgresCatalogRepository) GetCategoryNameForImage(ctx context.Context, imageID int64) (string, error) {
	query := `
		SELECT c.name
		FROM item_images i
		JOIN categories c ON c.id = i.category_id
		WHERE i.id = $1
	`
	var name string
	err := r.pool.QueryRow(ctx, query, imageID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve image category: %w", err)
	}
	return name, nil
}
